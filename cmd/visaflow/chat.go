package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/tbxark/visaflow"
	"github.com/tbxark/visaflow/agent"
	"github.com/tbxark/visaflow/oracle"
	"github.com/tbxark/visaflow/session"
)

type chatOptions struct {
	sessionID string
	visaType  string
	country   string
}

func newChatCommand(configPath *string) *cobra.Command {
	opts := chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Fill an application interactively from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return chat(cmd.Context(), *configPath, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.sessionID, "session", "cli", "session id")
	cmd.Flags().StringVar(&opts.visaType, "visa-type", "vnm_tourism_single_entry", "workflow to fill")
	cmd.Flags().StringVar(&opts.country, "country", "", "destination country from the handoff")
	return cmd
}

const chatHelp = `Commands:
  /upload <document_type> <path>  upload a document for the current stage
  /status                         show what the current stage needs
  /export                         print the final payload
  /quit                           leave`

func chat(ctx context.Context, configPath string, opts chatOptions, in io.Reader, out io.Writer) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	visaAgent := agent.NewAgent(
		"VisaAssistant",
		"An agent that collects visa application data through conversation",
		a.router,
		agent.WithHandoff(func(ctx context.Context, id string) (session.HandoffData, bool) {
			return session.HandoffData{VisaType: opts.visaType, Country: opts.country}, true
		}),
	)
	runner := adk.NewRunner(ctx, adk.RunnerConfig{Agent: visaAgent})
	transcript := agent.NewTranscript(50)
	chatCtx := agent.WithSessionKey(ctx, opts.sessionID)

	fmt.Fprintln(out, "Welcome! Say hello to start your application.")
	fmt.Fprintln(out, chatHelp)
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "You: ")
		line, rErr := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if rErr != nil && line == "" {
			fmt.Fprintln(out)
			return nil
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, cErr := runChatCommand(chatCtx, a.router, opts.sessionID, line, out)
			if cErr != nil {
				fmt.Fprintf(out, "\nAssistant: %v\n======\n", cErr)
			}
			if quit {
				return nil
			}
			continue
		}

		history, hErr := transcript.Append(chatCtx, schema.UserMessage(line))
		if hErr != nil {
			return hErr
		}
		iter := runner.Run(chatCtx, history)
		for {
			event, ok := iter.Next()
			if !ok {
				break
			}
			if event.Err != nil {
				return event.Err
			}
			msg, mErr := event.Output.MessageOutput.GetMessage()
			if mErr != nil {
				return mErr
			}
			if _, hErr = transcript.Append(chatCtx, msg); hErr != nil {
				return hErr
			}
			fmt.Fprintf(out, "\nAssistant: %s\n======\n", msg.Content)
		}
	}
}

func runChatCommand(ctx context.Context, router *visaflow.Router, id, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, chatHelp)
	case "/status":
		req, err := router.Requirements(ctx, id)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "\n%s\n======\n", agent.RenderRequirements(req))
	case "/export":
		payload, err := router.Export(ctx, id)
		if err != nil {
			return false, err
		}
		data, err := sonic.ConfigStd.MarshalIndent(payload, "", "  ")
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "\n%s\n======\n", data)
	case "/upload":
		if len(fields) != 3 {
			return false, fmt.Errorf("usage: /upload <document_type> <path>")
		}
		data, err := os.ReadFile(fields[2])
		if err != nil {
			return false, err
		}
		resp, err := router.Handle(ctx, visaflow.Event{
			SessionID:    id,
			Kind:         visaflow.EventDocument,
			DocumentType: fields[1],
			Document: &oracle.Document{
				Name:     filepath.Base(fields[2]),
				MIMEType: mime.TypeByExtension(filepath.Ext(fields[2])),
				Data:     data,
			},
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "\nAssistant: %s\n======\n", agent.Render(resp))
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

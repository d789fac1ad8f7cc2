package httpapi

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// sonicSerializer replaces echo's encoding/json serializer.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	api := sonic.ConfigStd
	var (
		data []byte
		err  error
	)
	if indent != "" {
		data, err = api.MarshalIndent(i, "", indent)
	} else {
		data, err = api.Marshal(i)
	}
	if err != nil {
		return err
	}
	_, err = c.Response().Write(data)
	return err
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON").SetInternal(err)
	}
	return nil
}

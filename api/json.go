package api

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const maxBodySize = 1 << 20

// SonicSerializer plugs sonic into echo. Request bodies must not carry
// fields the target type does not declare.
type SonicSerializer struct{}

func (SonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (SonicSerializer) Deserialize(c echo.Context, i any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body: "+err.Error()).SetInternal(err)
	}
	return nil
}

// optionalTime tells an absent field apart from an explicit null.
type optionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *optionalTime) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := t.UnmarshalJSON(b); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

package handler

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/smallbiznis-gateway/internal/service"
)

// SessionCookie carries the connect session id between the connect
// redirect and the provider callback.
const SessionCookie = "gateway_session"

// callbackPage is rendered at the end of every browser flow. The
// frontend SDK opens the connect URL in a popup and listens for the
// posted message.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Authentication</title></head>
<body>
<script>
  var payload = {
    authId: {{.AuthID}},
    error: {{.Error}},
    errorDescription: {{.ErrorDescription}}
  };
  if (window.opener) {
    window.opener.postMessage(payload, "*");
    window.close();
  } else {
    document.body.textContent = JSON.stringify(payload);
  }
</script>
</body>
</html>
`))

type callbackView struct {
	AuthID           string
	Error            string
	ErrorDescription string
}

// AuthHandler exposes the connect, callback and revoke endpoints.
type AuthHandler struct {
	Auth service.AuthService
}

func NewAuthHandler(auth service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

// Connect starts an authentication flow and redirects the browser to
// the provider. Connect params arrive as params[name]=value.
func (h *AuthHandler) Connect(c *gin.Context) {
	in := service.ConnectInput{
		Buid:          c.Param("buid"),
		SetupID:       strings.TrimSpace(c.Query("setupId")),
		ConnectParams: connectParams(c),
	}

	result, err := h.Auth.Connect(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	if result.Completed {
		// No user interaction was needed; render the terminal page
		// directly.
		h.renderCallback(c, callbackView{AuthID: result.AuthID})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookie,
		Value:    result.SessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, result.RedirectURL)
}

// Callback completes the flow the provider redirected back from. The
// outcome, success or failure, is always delivered through the HTML
// page so popup-based SDKs get an answer.
func (h *AuthHandler) Callback(c *gin.Context) {
	sessionID, _ := c.Cookie(SessionCookie)

	result, err := h.Auth.Callback(c.Request.Context(), sessionID, c.Request.URL.Query())
	if err != nil {
		var gatewayErr *service.GatewayError
		if errors.As(err, &gatewayErr) {
			h.renderCallback(c, callbackView{Error: gatewayErr.Code, ErrorDescription: gatewayErr.Description})
			return
		}
		respondError(c, err)
		return
	}
	h.renderCallback(c, callbackView{AuthID: result.AuthID})
}

// Revoke deletes a stored authentication.
func (h *AuthHandler) Revoke(c *gin.Context) {
	if err := h.Auth.Revoke(c.Request.Context(), c.Param("buid"), c.Param("authId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (h *AuthHandler) renderCallback(c *gin.Context, view callbackView) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	_ = callbackPage.Execute(c.Writer, view)
}

// connectParams extracts params[name]=value query arguments.
func connectParams(c *gin.Context) map[string]string {
	params := map[string]string{}
	for key, values := range c.Request.URL.Query() {
		if !strings.HasPrefix(key, "params[") || !strings.HasSuffix(key, "]") {
			continue
		}
		name := key[len("params[") : len(key)-1]
		if name == "" || len(values) == 0 {
			continue
		}
		params[name] = values[0]
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

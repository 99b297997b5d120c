package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const tokenTypeBearer = "Bearer"

type errorResponse struct {
	Errors   []auth.FieldError `json:"errors"`
	Redirect string            `json:"redirect"`
}

type signInResponse struct {
	credentials.User
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Redirect    string `json:"redirect"`
}

type pendingResponse struct {
	State         auth.AttemptState `json:"state"`
	MissingFields []string          `json:"missing_fields"`
	Redirect      string            `json:"redirect"`
}

// respond writes every orchestrator outcome.
func (h *httpHandler) respond(c *gin.Context, outcome auth.Outcome) {
	switch {
	case outcome.Succeeded():
		h.respondSuccess(c, outcome)
	case outcome.Failed():
		h.respondErrors(c, outcome.Errors, outcome.Mode == auth.ModeRedirect)
	default:
		if outcome.Mode == auth.ModeRedirect {
			c.Redirect(http.StatusSeeOther, outcome.RedirectTo)
			return
		}
		missing := outcome.MissingFields
		if missing == nil {
			missing = []string{}
		}
		c.JSON(http.StatusAccepted, pendingResponse{
			State:         outcome.State,
			MissingFields: missing,
			Redirect:      outcome.RedirectTo,
		})
	}
}

func (h *httpHandler) respondSuccess(c *gin.Context, outcome auth.Outcome) {
	ctx := c.Request.Context()
	user := *outcome.User
	if err := h.signIn(ctx, user.ID); err != nil {
		h.respondFatal(c, outcome.Mode == auth.ModeRedirect, "session_renew_failed", err)
		return
	}
	if outcome.Mode == auth.ModeRedirect {
		c.Redirect(http.StatusSeeOther, outcome.RedirectTo)
		return
	}

	token, expiresIn, err := h.tokens.IssueAccessToken(ctx, user)
	if err != nil {
		h.respondFatal(c, false, "token_issue_failed", err)
		return
	}
	c.JSON(http.StatusOK, signInResponse{
		User:        user,
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   expiresIn,
		Redirect:    outcome.RedirectTo,
	})
}

// respondErrors flashes the report and redirects HTML clients; other clients receive the
// report with the status of its first code.
func (h *httpHandler) respondErrors(c *gin.Context, errs auth.FieldErrorSet, html bool) {
	if html {
		h.flashErrors(c.Request.Context(), errs.Entries())
		c.Redirect(http.StatusSeeOther, errs.Redirect())
		return
	}
	c.JSON(errs.Status(), errorResponse{Errors: errs.Entries(), Redirect: errs.Redirect()})
}

func (h *httpHandler) respondFatal(c *gin.Context, html bool, reason string, err error) {
	h.logger.Error("authentication request failed",
		zap.String("operation", "server.respond"),
		zap.String("reason", reason),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	errs := auth.NewFieldErrorSet(auth.ErrorPath)
	errs.Add(auth.CodeUnknown, "")
	h.respondErrors(c, errs, html)
}

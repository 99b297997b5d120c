package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/profile"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/providers"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	accumulatorContextKey  = "identity_accumulator"
	registrationContextKey = "identity_registration"
	credentialsContextKey  = "identity_credentials"
	providerTypeContextKey = "identity_provider_type"
)

type emailSubmission struct {
	Email string `json:"email" form:"email"`
}

func (h *httpHandler) requireKnownProvider(c *gin.Context) {
	providerType := strings.ToLower(c.Param("type"))
	if !h.registry.IsKnown(providerType) {
		h.renderPage(c, http.StatusNotFound, page{Title: "Unknown sign-in method"})
		c.Abort()
		return
	}
	c.Set(providerTypeContextKey, providerType)
	c.Next()
}

func (h *httpHandler) requireProfileInFlight(c *gin.Context) {
	acc, err := h.loadAccumulator(c.Request.Context())
	if err != nil {
		h.respondFatal(c, wantsHTML(c), "profile_decode_failed", err)
		c.Abort()
		return
	}
	switch acc.State() {
	case profile.StatePartial, profile.StateComplete:
		c.Set(accumulatorContextKey, acc)
		c.Next()
	default:
		errs := auth.NewFieldErrorSet(auth.ErrorPath)
		errs.Add(auth.CodeNoProfileInFlight, "")
		h.respondErrors(c, errs, wantsHTML(c))
		c.Abort()
	}
}

func (h *httpHandler) requireRegistrationShape(c *gin.Context) {
	var registration auth.Registration
	if err := c.ShouldBind(&registration); err != nil {
		h.rejectMalformedBody(c, auth.RegisterFormPath, err)
		return
	}
	if errs := h.validator.CheckRegistration(registration, auth.RegisterFormPath); !errs.Empty() {
		h.respondErrors(c, errs, wantsHTML(c))
		c.Abort()
		return
	}
	c.Set(registrationContextKey, registration)
	c.Next()
}

func (h *httpHandler) requireCredentialShape(c *gin.Context) {
	var creds auth.Credentials
	if err := c.ShouldBind(&creds); err != nil {
		h.rejectMalformedBody(c, auth.LoginFormPath, err)
		return
	}
	if errs := h.validator.CheckCredentials(creds, auth.LoginFormPath); !errs.Empty() {
		h.respondErrors(c, errs, wantsHTML(c))
		c.Abort()
		return
	}
	c.Set(credentialsContextKey, creds)
	c.Next()
}

func (h *httpHandler) rejectMalformedBody(c *gin.Context, redirect string, err error) {
	h.logger.Info("malformed request body", zap.String("path", c.FullPath()), zap.Error(err))
	errs := auth.NewFieldErrorSet(redirect)
	errs.Add(auth.CodeInvalidField, "")
	h.respondErrors(c, errs, wantsHTML(c))
	c.Abort()
}

func (h *httpHandler) handleDelegatedLogin(c *gin.Context) {
	providerType := c.GetString(providerTypeContextKey)
	state, err := newOAuthState()
	if err != nil {
		h.respondFatal(c, wantsHTML(c), "state_generation_failed", err)
		return
	}
	authURL, err := h.orchestrator.BeginDelegatedLogin(providerType, state)
	if err != nil {
		h.respondFatal(c, wantsHTML(c), "begin_delegated_failed", err)
		return
	}
	ctx := c.Request.Context()
	h.sessions.Put(ctx, sessionKeyOAuthState, state)
	h.sessions.Put(ctx, sessionKeyOAuthType, providerType)
	c.Redirect(http.StatusFound, authURL)
}

func (h *httpHandler) handleDelegatedCallback(c *gin.Context) {
	providerType := c.GetString(providerTypeContextKey)
	ctx := c.Request.Context()
	html := wantsHTML(c)

	expectedState := h.sessions.PopString(ctx, sessionKeyOAuthState)
	expectedType := h.sessions.PopString(ctx, sessionKeyOAuthType)
	if expectedState == "" || expectedState != c.Query("state") || expectedType != providerType {
		h.logger.Info("delegated callback rejected", zap.String("type", providerType), zap.String("reason", "state_mismatch"))
		errs := auth.NewFieldErrorSet(auth.FailurePath(providerType))
		errs.Add(auth.CodeProviderFailed, "")
		h.respondErrors(c, errs, html)
		return
	}

	acc, err := h.loadAccumulator(ctx)
	if err != nil {
		h.respondFatal(c, html, "profile_decode_failed", err)
		return
	}
	outcome, err := h.orchestrator.CompleteDelegatedCallback(ctx, providerType, providers.CallbackParams{
		Code:             c.Query("code"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	}, acc, html)
	if err != nil {
		h.respondFatal(c, html, "delegated_callback_failed", err)
		return
	}
	if err := h.saveAccumulator(ctx, acc); err != nil {
		h.respondFatal(c, html, "profile_encode_failed", err)
		return
	}
	h.respond(c, outcome)
}

func (h *httpHandler) handleDelegatedFailure(c *gin.Context) {
	h.renderPage(c, http.StatusUnauthorized, page{
		Title:  "Sign-in failed",
		Errors: h.popFlashedErrors(c.Request.Context()),
	})
}

func (h *httpHandler) handleEmailForm(c *gin.Context) {
	acc := c.MustGet(accumulatorContextKey).(*profile.Accumulator)
	if acc.State() == profile.StateComplete {
		c.Redirect(http.StatusSeeOther, auth.DefaultFinishPath)
		return
	}
	h.renderPage(c, http.StatusOK, page{
		Title:  "Enter your email address",
		Action: auth.EmailFormPath,
		Fields: []pageField{emailField},
		Errors: h.popFlashedErrors(c.Request.Context()),
	})
}

func (h *httpHandler) handleEmailSubmit(c *gin.Context) {
	acc := c.MustGet(accumulatorContextKey).(*profile.Accumulator)
	ctx := c.Request.Context()
	html := wantsHTML(c)

	var submission emailSubmission
	if err := c.ShouldBind(&submission); err != nil {
		h.rejectMalformedBody(c, auth.EmailFormPath, err)
		return
	}

	outcome, err := h.orchestrator.SubmitProfileField(ctx, acc, profile.FieldEmail, submission.Email, html)
	if err != nil {
		if errors.Is(err, profile.ErrInvalidState) {
			h.sessions.Remove(ctx, sessionKeyProfile)
		}
		h.respondFatal(c, html, "profile_submit_failed", err)
		return
	}
	if err := h.saveAccumulator(ctx, acc); err != nil {
		h.respondFatal(c, html, "profile_encode_failed", err)
		return
	}
	h.respond(c, outcome)
}

func (h *httpHandler) handleRegisterForm(c *gin.Context) {
	h.renderPage(c, http.StatusOK, page{
		Title:     "Create an account",
		Action:    auth.RegisterFormPath,
		Fields:    []pageField{firstNameField, lastNameField, emailField, passwordField},
		Errors:    h.popFlashedErrors(c.Request.Context()),
		Providers: h.registry.Types(),
	})
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	registration := c.MustGet(registrationContextKey).(auth.Registration)
	outcome := h.orchestrator.RegisterLocal(c.Request.Context(), registration, wantsHTML(c))
	h.respond(c, outcome)
}

func (h *httpHandler) handleLoginForm(c *gin.Context) {
	h.renderPage(c, http.StatusOK, page{
		Title:     "Sign in",
		Action:    auth.LoginFormPath,
		Fields:    []pageField{emailField, passwordField},
		Errors:    h.popFlashedErrors(c.Request.Context()),
		Providers: h.registry.Types(),
	})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	creds := c.MustGet(credentialsContextKey).(auth.Credentials)
	outcome := h.orchestrator.LoginLocal(c.Request.Context(), creds, wantsHTML(c))
	h.respond(c, outcome)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.sessions.Destroy(c.Request.Context()); err != nil {
		h.respondFatal(c, wantsHTML(c), "session_destroy_failed", err)
		return
	}
	if wantsHTML(c) {
		c.Redirect(http.StatusSeeOther, auth.LoginFormPath)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleFinish(c *gin.Context) {
	ctx := c.Request.Context()
	html := wantsHTML(c)
	userID := h.sessions.GetString(ctx, sessionKeyUserID)
	if userID == "" {
		h.redirectToLogin(c, html)
		return
	}
	user, err := h.users.FindUserByID(ctx, userID)
	if err != nil {
		h.respondFatal(c, html, "user_lookup_failed", err)
		return
	}
	if user == nil {
		h.sessions.Remove(ctx, sessionKeyUserID)
		h.redirectToLogin(c, html)
		return
	}
	h.renderPage(c, http.StatusOK, page{Title: "You are signed in", User: user})
}

func (h *httpHandler) redirectToLogin(c *gin.Context, html bool) {
	if html {
		c.Redirect(http.StatusSeeOther, auth.LoginFormPath)
		return
	}
	c.JSON(http.StatusUnauthorized, errorResponse{Errors: []auth.FieldError{}, Redirect: auth.LoginFormPath})
}

func (h *httpHandler) handleError(c *gin.Context) {
	h.renderPage(c, http.StatusBadRequest, page{
		Title:  "Something went wrong",
		Errors: h.popFlashedErrors(c.Request.Context()),
	})
}

package site

import (
	"context"
	"io"
	"net/url"
	"strings"

	"coursedl/pkg/config"
	"coursedl/pkg/errors"
	"coursedl/pkg/extract"
	"coursedl/pkg/logger"
)

// Credentials identify the site account. They are supplied once per run.
type Credentials struct {
	Login    string
	Password string
}

// Authenticator performs the login form handshake for a Session
type Authenticator struct {
	session *Session
	site    config.SiteConfig
	account string
	logger  logger.Logger
}

// NewAuthenticator creates an authenticator that logs session in using the
// account page of cfg
func NewAuthenticator(session *Session, cfg *config.Config, log logger.Logger) *Authenticator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Authenticator{
		session: session,
		site:    cfg.Site,
		account: cfg.AccountURL(),
		logger:  log.WithField("component", "authenticator"),
	}
}

// Authenticate logs in once. It GETs the account page to seed cookies,
// copies every input of the login form, overrides the credential fields,
// posts the form and looks for the logged-in marker in the reply. Any
// failure along the way is an auth error; cancellation is returned as is.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) error {
	if a.session.State() == Authenticated {
		return nil
	}

	a.logger.WithField("login", creds.Login).Info("Logging in")

	accountURL, err := url.Parse(a.account)
	if err != nil {
		return errors.NewAuthError("invalid account URL", a.account, err)
	}

	page, err := a.read(ctx, func() (io.ReadCloser, error) {
		resp, err := a.session.Get(ctx, a.account, nil)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	})
	if err != nil {
		return err
	}

	form, err := extract.ExtractForm(page, a.site.LoginFormID, accountURL)
	if err != nil {
		return errors.NewAuthError("login form not found", a.account, err)
	}
	form.Values.Set(a.site.LoginField, creds.Login)
	form.Values.Set(a.site.PasswordField, creds.Password)

	reply, err := a.read(ctx, func() (io.ReadCloser, error) {
		resp, err := a.session.PostForm(ctx, a.account, form.Values)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	})
	if err != nil {
		return err
	}

	if !strings.Contains(string(reply), a.site.LoggedInMarker) {
		a.session.setState(Unauthenticated)
		return errors.NewAuthError("failed to login: logged-in marker missing from response", a.account, nil)
	}

	a.session.setState(Authenticated)
	a.logger.Info("Login successful")
	return nil
}

// read runs one login round trip and reads the whole body, mapping transport
// failures to auth errors
func (a *Authenticator) read(ctx context.Context, do func() (io.ReadCloser, error)) ([]byte, error) {
	body, err := do()
	if err == nil {
		defer body.Close()
		var data []byte
		data, err = io.ReadAll(body)
		if err == nil {
			return data, nil
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, errors.NewAuthError("login request failed", a.account, err)
}

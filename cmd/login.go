package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/outpost-labs/okta-idx-go/lib"
	"github.com/outpost-labs/okta-idx-go/lib/client"
	"github.com/outpost-labs/okta-idx-go/lib/idx"
	"github.com/outpost-labs/okta-idx-go/lib/session"
)

var (
	forceLogin bool
	recovery   bool
)

var loginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "login authenticates you against your Okta org and caches the issued token",
	RunE:  loginRun,
}

func init() {
	RootCmd.AddCommand(loginCmd)
	loginCmd.Flags().BoolVarP(&forceLogin, "force", "f", false, "Sign in even when a cached token is still valid")
	loginCmd.Flags().BoolVarP(&recovery, "recover", "r", false, "Start a password recovery flow instead of a sign-in")
}

func loginRun(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return ErrTooManyArguments
	}
	profile := lib.DefaultProfile
	if len(args) == 1 {
		profile = args[0]
	}

	config, err := lib.NewConfigFromEnv()
	if err != nil {
		return err
	}
	profiles, err := config.Parse()
	if err != nil {
		return err
	}
	cfg, err := profiles.ClientConfig(profile)
	if err != nil {
		return err
	}

	kr, err := openKeyring()
	if err != nil {
		return err
	}
	store := &session.Store{Keyring: kr}

	if !forceLogin {
		if cached, err := store.Get(profile); err == nil {
			fmt.Printf("Session for profile %s is still valid until %s\n", profile, cached.ExpiresAt.Format(time.RFC1123))
			return nil
		}
	}

	transport, err := client.NewClient(cfg, nil)
	if err != nil {
		return err
	}

	username, err := lib.Prompt("Okta username", false)
	if err != nil {
		return err
	}

	var password string
	opts := []idx.FlowOption{idx.WithStepHandler(&consoleStepHandler{})}
	if recovery {
		opts = append(opts, idx.WithRecoveryIntent())
	} else {
		password, err = lib.Prompt("Okta password", true)
		if err != nil {
			return err
		}
		opts = append(opts, idx.WithPassword(password))
	}

	flow := idx.NewFlow(transport, opts...)

	ctx := context.Background()
	resp, err := flow.Start(ctx)
	if err != nil {
		return err
	}

	token, err := driveFlow(ctx, flow, resp, username, password, cfg.RedirectURI)
	if err != nil {
		return err
	}

	if err := store.Put(profile, token); err != nil {
		log.Warnf("could not cache token: %s", err)
	}
	fmt.Printf("Signed in. Token cached for profile %s\n", profile)
	return nil
}

// driveFlow loops through remediation steps until the server hands back a
// token or no step can be advanced.
func driveFlow(ctx context.Context, flow *idx.Flow, resp *idx.Response, username, password, redirectURI string) (*idx.Token, error) {
	for {
		printMessages(resp)

		outcome, err := advance(ctx, flow, resp, username, password, redirectURI)
		if err != nil {
			return nil, err
		}
		if outcome.Kind == idx.OutcomeSuccess {
			return outcome.Token, nil
		}
		resp = outcome.Response
	}
}

// advance handles the first remediation we know how to drive. Skip and
// cancel are fallbacks, never picked while another step is offered.
func advance(ctx context.Context, flow *idx.Flow, resp *idx.Response, username, password, redirectURI string) (*idx.StepOutcome, error) {
	var skip *idx.Remediation

	for _, rem := range resp.Remediations {
		switch rem.Type {
		case idx.RemediationSkip:
			skip = rem
			continue
		case idx.RemediationCancel:
			continue
		}
		if rem.Type.IsUnknown() {
			log.Debugf("skipping unrecognized remediation %s", rem.Name)
			continue
		}
		return advanceRemediation(ctx, flow, rem, username, password, redirectURI)
	}

	if skip != nil {
		log.Debug("no drivable remediation, taking the skip branch")
		return flow.Submit(ctx, idx.RemediationSkip, nil)
	}
	return nil, fmt.Errorf("no remediation left to drive: %w", idx.ErrCannotProceed)
}

func advanceRemediation(ctx context.Context, flow *idx.Flow, rem *idx.Remediation, username, password, redirectURI string) (*idx.StepOutcome, error) {
	switch rem.Type {
	case idx.RemediationSelectAuthenticatorAuth, idx.RemediationSelectAuthenticatorEnroll:
		return flow.SelectAuthenticator(ctx, rem.Type)

	case idx.RemediationChallengePoll, idx.RemediationEnrollPoll:
		return pollStep(ctx, flow, rem)

	case idx.RemediationRedirectIDP:
		if capability := rem.Capabilities.SocialIDP(); capability != nil {
			return socialStep(ctx, flow, capability, redirectURI)
		}

	case idx.RemediationIdentify, idx.RemediationIdentifyRecovery:
		return flow.Submit(ctx, rem.Type, map[string]interface{}{"identifier": username})

	case idx.RemediationChallengeAuthenticator, idx.RemediationResetAuthenticator,
		idx.RemediationEnrollAuthenticator, idx.RemediationAuthenticatorVerificationData:
		return credentialStep(ctx, flow, rem, password)
	}

	// enroll-profile and anything else form-shaped: ask for the fields.
	values, err := promptForm(rem, nil)
	if err != nil {
		return nil, err
	}
	return flow.Submit(ctx, rem.Type, values)
}

// credentialStep drives one authenticator interaction: hardware key
// ceremonies, push polling, or a prompted passcode.
func credentialStep(ctx context.Context, flow *idx.Flow, rem *idx.Remediation, password string) (*idx.StepOutcome, error) {
	capabilities := append(idx.CapabilitySet{}, rem.Capabilities...)
	if authn := rem.Authenticator(); authn != nil {
		capabilities = append(capabilities, authn.Capabilities...)
	}

	if registration := capabilities.WebAuthnRegistration(); registration != nil {
		fmt.Println("Enrolling your security key. Touch it when it blinks.")
		cred, err := idx.NewWebAuthnClient().Register(registration)
		if err != nil {
			return nil, err
		}
		return flow.SubmitWebAuthnRegistration(ctx, cred)
	}
	if assertion := capabilities.WebAuthnAuthentication(); assertion != nil {
		fmt.Println("Verify with your security key. Touch it when it blinks.")
		cred, err := idx.NewWebAuthnClient().Authenticate(assertion)
		if err != nil {
			return nil, err
		}
		return flow.SubmitWebAuthnAssertion(ctx, cred)
	}

	if otp := capabilities.OTP(); otp != nil {
		fmt.Println("Add this account to your authenticator app:")
		if otp.QRCodeURI != "" {
			fmt.Printf("  %s\n", otp.QRCodeURI)
		}
		if otp.SharedSecret != "" {
			fmt.Printf("  shared secret: %s\n", otp.SharedSecret)
		}
	}
	if challenge := capabilities.NumberChallenge(); challenge != nil {
		fmt.Printf("Tap %s in the push notification\n", challenge.CorrectAnswer)
	}
	if capability := capabilities.Pollable(); capability != nil {
		if authn := rem.Authenticator(); authn != nil && authn.Kind == idx.AuthenticatorKindApp {
			fmt.Println("Waiting for the push to be approved...")
			return pollStep(ctx, flow, rem)
		}
	}

	if authn := rem.Authenticator(); authn != nil && authn.Kind == idx.AuthenticatorKindPassword &&
		password != "" && rem.Form != nil && rem.Form.Field("credentials") != nil {
		return flow.Submit(ctx, rem.Type, map[string]interface{}{
			"credentials.passcode": password,
		})
	}

	if sendable := capabilities.Sendable(); sendable != nil && (rem.Form == nil || rem.Form.Field("credentials") == nil) {
		fmt.Printf("Sending a code to %s\n", sendable.Target)
		return flow.Send(ctx, sendable)
	}

	values, err := promptForm(rem, nil)
	if err != nil {
		return nil, err
	}
	return flow.Submit(ctx, rem.Type, values)
}

// pollStep blocks until the poll loop reaches a terminal response.
func pollStep(ctx context.Context, flow *idx.Flow, rem *idx.Remediation) (*idx.StepOutcome, error) {
	capability := rem.Capabilities.Pollable()
	if capability == nil {
		if authn := rem.Authenticator(); authn != nil {
			capability = authn.Capabilities.Pollable()
		}
	}
	if capability == nil {
		return nil, fmt.Errorf("%s offers no poll endpoint: %w", rem.Type, idx.ErrCannotProceed)
	}

	type pollDone struct {
		outcome *idx.StepOutcome
		err     error
	}
	ch := make(chan pollDone, 1)
	poller, err := flow.StartPolling(ctx, capability, func(outcome *idx.StepOutcome, err error) {
		ch <- pollDone{outcome, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case done := <-ch:
		return done.outcome, done.err
	case <-ctx.Done():
		poller.Stop()
		return nil, ctx.Err()
	}
}

// socialStep sends the user through the external provider in a browser and
// catches the callback on the registered redirect URI.
func socialStep(ctx context.Context, flow *idx.Flow, capability *idx.SocialIDP, redirectURI string) (*idx.StepOutcome, error) {
	social, err := flow.SocialRedirect(capability, redirectURI)
	if err != nil {
		return nil, err
	}

	callback, errs, shutdown, err := callbackListener(redirectURI)
	if err != nil {
		return nil, err
	}
	defer shutdown()

	fmt.Printf("Continuing with %s in your browser\n", capability.Name)
	if err := social.Open(); err != nil {
		log.Warnf("could not open browser: %s", err)
		fmt.Printf("Open this URL yourself:\n  %s\n", social.URL())
	}

	select {
	case raw := <-callback:
		return social.Callback(ctx, raw)
	case err := <-errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// callbackListener serves the redirect URI until one callback arrives.
func callbackListener(redirectURI string) (<-chan string, <-chan error, func(), error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, nil, nil, err
	}

	callback := make(chan string, 1)
	errs := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(u.Path, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Signed in. You can close this window.")
		callback <- u.Scheme + "://" + u.Host + r.URL.String()
	})
	srv := &http.Server{Addr: u.Host, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
	return callback, errs, shutdown, nil
}

// promptForm collects values for the visible, mutable fields of a
// remediation form. Preset values are used without prompting.
func promptForm(rem *idx.Remediation, preset map[string]interface{}) (map[string]interface{}, error) {
	values := map[string]interface{}{}
	for k, v := range preset {
		values[k] = v
	}
	if rem.Form == nil {
		return values, nil
	}
	if err := promptFields(rem.Form.Fields, "", values); err != nil {
		return nil, err
	}
	return values, nil
}

// promptFields collects answers keyed by the dotted path of each field, the
// addressing scheme form assembly expects.
func promptFields(fields []idx.Field, prefix string, values map[string]interface{}) error {
	for i := range fields {
		f := &fields[i]
		if !f.Visible || !f.Mutable {
			continue
		}
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		if _, ok := values[path]; ok {
			continue
		}

		switch {
		case len(f.Options) > 0:
			labels := make([]string, len(f.Options))
			for j := range f.Options {
				labels[j] = optionLabel(&f.Options[j])
			}
			n, err := lib.Choose(fieldLabel(f), labels)
			if err != nil {
				return err
			}
			values[path] = labels[n]

		case f.Form != nil:
			if err := promptFields(f.Form.Fields, path, values); err != nil {
				return err
			}

		case f.Type == idx.FieldTypeBoolean:
			answer, err := lib.Prompt(fieldLabel(f)+" (y/n)", false)
			if err != nil {
				return err
			}
			values[path] = answer == "y" || answer == "yes"

		default:
			answer, err := lib.Prompt(fieldLabel(f), f.Secret)
			if err != nil {
				return err
			}
			if answer == "" && !f.Required {
				continue
			}
			values[path] = answer
		}
	}
	return nil
}

func fieldLabel(f *idx.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func optionLabel(opt *idx.Field) string {
	if opt.Label != "" {
		return opt.Label
	}
	if s, ok := opt.Value.(string); ok {
		return s
	}
	return opt.Name
}

func printMessages(resp *idx.Response) {
	for _, m := range resp.Messages {
		if m.Class == idx.MessageClassError {
			fmt.Printf("! %s\n", m.Text)
		} else {
			fmt.Println(m.Text)
		}
	}
}

// consoleStepHandler lets the user pick between offered authenticators.
type consoleStepHandler struct{}

func (consoleStepHandler) ChooseAuthenticator(options []idx.AuthenticatorOption) (int, error) {
	labels := make([]string, len(options))
	for i, opt := range options {
		labels[i] = opt.Label
	}
	return lib.Choose("Select an authenticator", labels)
}

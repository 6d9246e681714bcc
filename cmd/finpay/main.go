// Command finpay is a headless client for the tenant backend: it drives the
// login/OTP flows, the MPIN lock, and the KYC gate from a terminal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"finpay-client/internal/api"
	"finpay-client/internal/authflow"
	"finpay-client/internal/factory"
	"finpay-client/internal/kyc"
	"finpay-client/internal/mpin"
	"finpay-client/internal/util"
)

const maxUnlockAttempts = 4

func main() {
	ctx := context.Background()

	f, err := factory.NewFactory(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start:", err)
		os.Exit(1)
	}
	defer f.Close()

	app := &app{f: f, in: bufio.NewScanner(os.Stdin)}
	app.run(ctx)
}

type app struct {
	f  *factory.Factory
	in *bufio.Scanner
}

func (a *app) run(ctx context.Context) {
	sess := a.f.Session()

	if !sess.HasOpenedBefore(ctx) {
		fmt.Println("Welcome to FinPay.")
		if err := sess.MarkOpened(ctx); err != nil {
			util.Warn("could not record first open", util.ErrorField(err))
		}
	}

	if err := sess.Restore(ctx); err != nil {
		fmt.Println("Stored session could not be read; please sign in again.")
	}

	if sess.IsAuthenticated() && !a.unlock(ctx) {
		fmt.Println("Too many wrong PINs; signing out.")
		if err := sess.SignOut(ctx); err != nil {
			util.Warn("sign-out after failed unlock", util.ErrorField(err))
		}
	}

	for !sess.IsAuthenticated() {
		if !a.authenticate(ctx) {
			return
		}
	}

	a.kycGate(ctx)
	a.mainMenu(ctx)
}

// unlock runs the MPIN lock screen; true means access granted.
func (a *app) unlock(ctx context.Context) bool {
	gate := a.f.MPINGate()
	exists, err := gate.Exists(ctx)
	if err != nil || !exists {
		return true
	}

	for gate.Failures() < maxUnlockAttempts {
		pin := a.prompt("Enter your 4-digit PIN: ")
		ok, err := gate.Verify(ctx, pin)
		if err != nil {
			fmt.Println("PIN check failed:", err)
			return false
		}
		if ok {
			return true
		}
		fmt.Println("Wrong PIN.")
	}
	return false
}

// authenticate runs one pass of the auth menu; false means quit.
func (a *app) authenticate(ctx context.Context) bool {
	flow := a.f.Flow()

	switch a.prompt("[l]ogin, [s]ign up, [f]orgot password, [q]uit: ") {
	case "l":
		identifier := a.prompt("Email or phone: ")
		password := a.prompt("Password: ")
		if err := flow.SubmitCredentials(ctx, identifier, password, authflow.PurposeLogin); err != nil {
			fmt.Println(errMessage(err))
			return true
		}
		a.otpLoop(ctx)
	case "s":
		req := api.RegisterRequest{
			Name:  a.prompt("Full name: "),
			Email: a.prompt("Email: "),
			Phone: a.prompt("Phone: "),
			Role:  "retailer",
		}
		req.Password = a.prompt("Password: ")
		req.PasswordConfirmation = a.prompt("Confirm password: ")
		if err := flow.SubmitSignup(ctx, req); err != nil {
			fmt.Println(errMessage(err))
			return true
		}
		a.otpLoop(ctx)
	case "f":
		identifier := a.prompt("Email or phone: ")
		if err := flow.SubmitCredentials(ctx, identifier, "", authflow.PurposeForgot); err != nil {
			fmt.Println(errMessage(err))
			return true
		}
		if a.otpLoop(ctx) && flow.State() == authflow.StatePasswordResetReady {
			a.resetPassword(ctx)
		}
	case "q":
		return false
	}
	flow.Reset()
	return true
}

// otpLoop collects codes until the flow leaves the OTP states.
func (a *app) otpLoop(ctx context.Context) bool {
	flow := a.f.Flow()
	ch := flow.Challenge()
	if ch == nil {
		return false
	}
	fmt.Printf("A %d-digit code was sent to %s.\n", ch.Length, ch.Recipient)

	for {
		input := a.prompt("Code ([r] to resend, [c] to cancel): ")
		switch input {
		case "c":
			flow.Reset()
			return false
		case "r":
			if !flow.CanResend() {
				fmt.Printf("Resend available in %s.\n", flow.ResendIn().Round(time.Second))
				continue
			}
			if err := flow.ResendOTP(ctx); err != nil {
				fmt.Println(errMessage(err))
			} else {
				fmt.Println("Code resent.")
			}
		default:
			err := flow.VerifyOTP(ctx, input)
			if err != nil {
				fmt.Println(errMessage(err))
				continue
			}
			return true
		}
	}
}

func (a *app) resetPassword(ctx context.Context) {
	flow := a.f.Flow()
	for {
		newPass := a.prompt("New password: ")
		confirm := a.prompt("Confirm password: ")
		if err := flow.ResetPassword(ctx, newPass, confirm); err != nil {
			fmt.Println(errMessage(err))
			continue
		}
		fmt.Println("Password updated; please log in.")
		return
	}
}

// kycGate blocks until the remote status approves or the user gives up.
func (a *app) kycGate(ctx context.Context) {
	gate := a.f.KYCGate()
	sess := a.f.Session()

	for {
		switch gate.CheckStatus(ctx, sess.Token()) {
		case kyc.Approved:
			return
		case kyc.Pending:
			fmt.Println("Your KYC is under review.")
		default:
			fmt.Println("KYC not submitted; complete it from the web portal.")
		}
		if a.prompt("[r]efresh status, [q]uit: ") == "q" {
			return
		}
	}
}

func (a *app) mainMenu(ctx context.Context) {
	sess := a.f.Session()
	gate := a.f.MPINGate()

	for {
		switch a.prompt("[p]rofile, [s]et PIN, [o]ut (logout), [q]uit: ") {
		case "p":
			if user := sess.User(); user != nil {
				fmt.Printf("%s <%s> (%s)\n", user.FullName, user.Email, user.ID)
			}
		case "s":
			pin := a.prompt("Choose a 4-digit PIN: ")
			if err := gate.Setup(ctx, pin); err != nil {
				if err == mpin.ErrInvalidPin {
					fmt.Println("The PIN must be exactly 4 digits.")
				} else {
					fmt.Println("Could not store the PIN:", err)
				}
				continue
			}
			fmt.Println("PIN set.")
		case "o":
			if err := sess.SignOut(ctx); err != nil {
				util.Warn("sign-out reported an error", util.ErrorField(err))
			}
			fmt.Println("Signed out.")
			return
		case "q":
			return
		}
	}
}

func (a *app) prompt(label string) string {
	fmt.Print(label)
	if !a.in.Scan() {
		return "q"
	}
	return strings.TrimSpace(a.in.Text())
}

func errMessage(err error) string {
	return api.MessageOf(err)
}

package dashboard

import "verdantdo/identity"

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notice is a short, non-blocking message for the user.
type Notice struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

func (n Notice) IsZero() bool { return n == Notice{} }

func errorNotice(description string) Notice {
	return Notice{Title: "Error", Description: description, Variant: VariantDestructive}
}

var notSignedIn = Notice{Title: "Not signed in", Description: "Sign in to manage your tasks.", Variant: VariantDestructive}

// SignInNotice describes a failed sign-in. A cancelled prompt gets a quiet
// message; anything else is shown as an error.
func SignInNotice(err error) Notice {
	if err == nil {
		return Notice{}
	}
	if identity.IsCancelled(err) {
		return Notice{Title: "Sign-in cancelled", Description: "You closed the sign-in prompt before finishing.", Variant: VariantDefault}
	}
	return Notice{Title: "Authentication Error", Description: "Failed to sign in. Please try again.", Variant: VariantDestructive}
}

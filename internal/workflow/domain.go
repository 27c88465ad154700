// internal/workflow/domain.go
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInProgress = errors.New("action already running for this patron")

// Action is one user-triggered workflow.
type Action string

const (
	ActionCreate Action = "create"
	ActionSync   Action = "sync"
	ActionVerify Action = "verify"
	ActionResend Action = "resend-activation"
)

// Result classifies how a workflow ended.
type Result string

const (
	ResultCreated       Result = "created"
	ResultAlreadyExists Result = "already_exists"
	ResultNotCreated    Result = "not_created"
	ResultSynced        Result = "synced"
	ResultFound         Result = "found"
	ResultNotFound      Result = "not_found"
	ResultResent        Result = "resent"
	ResultBlocked       Result = "blocked"
	ResultFailed        Result = "failed"
)

// Outcome is what a workflow reports back to the panel. StatusText is
// always shown; DebugText is the verbose diagnostic payload.
type Outcome struct {
	RunID           string   `json:"runId"`
	Action          Action   `json:"action"`
	Result          Result   `json:"result"`
	StatusText      string   `json:"statusText"`
	DebugText       string   `json:"debugText,omitempty"`
	OAUsername      string   `json:"oaUsername,omitempty"`
	NeedsReload     bool     `json:"needsReload"`
	WriteBackFailed bool     `json:"writeBackFailed,omitempty"`
	Missing         []string `json:"missing,omitempty"`
}

// Status texts.
const (
	msgCreateSuccess       = "OpenAthens account created."
	msgCreateAlreadyExists = "An OpenAthens account already exists."
	msgCreateFailed        = "OpenAthens account creation failed."
	msgSyncFailed          = "OpenAthens sync failed."
	msgVerifyFailed        = "Verify failed"
	msgNoOAFound           = "No OpenAthens account found"
	msgOAAlreadyExists     = "OpenAthens reports this account already exists."
	msgResendSuccess       = "Activation email resent."
	msgResendFailed        = "Resending the activation email failed."
	msgResendMissingEmail  = "Cannot resend activation: the patron has no email address."
	msgSavedToAlma         = "Saved to Alma."
	msgOAOkAlmaFailed      = "OpenAthens succeeded, but saving to Alma failed."
	msgAlmaUpdateFailed    = "Alma update failed"
	msgFieldsMissingCreate = "Alma record is missing fields OpenAthens requires; fix them in Alma and try again."
	msgFieldsMissingModify = "Alma record is missing fields needed to update OpenAthens."
	msgDefaultExistsReason = "An account already exists for this user."

	writeBackErrorHeader = "\n\n[Alma write-back error]\n"
)

func msgCreateSuccessWithUser(u string) string {
	return "OpenAthens account created: " + u
}

func msgCreateAlreadyExistsWithUser(u string) string {
	return "OpenAthens account already exists: " + u
}

func msgCreateNotCreated(reason string) string {
	return "OpenAthens account not created: " + reason
}

func msgSyncSuccessWithUser(u string) string {
	return "OpenAthens account synced: " + u
}

func msgExistsInOA(u string) string {
	if u == "" {
		return "Exists in OpenAthens"
	}
	return "Exists in OpenAthens: " + u
}

func msgCreateBlocked(missing []string) string {
	return fmt.Sprintf("Cannot create OpenAthens account. Missing: %s", strings.Join(missing, ", "))
}

func msgSyncBlocked(missing []string) string {
	return fmt.Sprintf("Cannot sync OpenAthens account. Missing: %s", strings.Join(missing, ", "))
}

package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"gorm.io/gorm"
)

// Token prefixes make leaked secrets identifiable in scanners without
// revealing which runner they belong to.
const (
	registrationTokenPrefix = "vrrt-"
	runnerTokenPrefix       = "vrt-"
	jobTokenPrefix          = "vjt-"
)

// tokenBytes is the entropy of generated tokens before hex encoding.
const tokenBytes = 32

// NewRegistrationTokenString generates a new registration token secret.
func NewRegistrationTokenString() string {
	return registrationTokenPrefix + randomHexToken()
}

// NewRunnerTokenString generates a new runner identity token secret.
func NewRunnerTokenString() string {
	return runnerTokenPrefix + randomHexToken()
}

// NewJobTokenString generates a new per-acceptance job token secret.
func NewJobTokenString() string {
	return jobTokenPrefix + randomHexToken()
}

func randomHexToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process cannot mint secrets at all.
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}

// RunnerRegistrationToken is a shared secret an operator hands to runner
// processes. One token may back many runners. It is never mutated after
// creation; deleting it invalidates future registrations but not runners
// that already registered with it.
type RunnerRegistrationToken struct {
	BaseModel

	// Token is the shared secret presented at registration.
	Token string `gorm:"not null;uniqueIndex;size:128" json:"token" masq:"secret"`
}

// TableName returns the table name for RunnerRegistrationToken.
func (RunnerRegistrationToken) TableName() string {
	return "runner_registration_tokens"
}

// BeforeCreate generates the token secret if not already set.
func (t *RunnerRegistrationToken) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if t.Token == "" {
		t.Token = NewRegistrationTokenString()
	}
	return nil
}

// Runner is the identity created when a runner process registers.
type Runner struct {
	BaseModel

	// Name is the display name declared by the runner process. Registration
	// is idempotent by name: re-registering an existing name returns the
	// existing identity.
	Name string `gorm:"not null;uniqueIndex;size:255" json:"name"`

	// Description is optional free text supplied at registration.
	Description string `gorm:"size:1024" json:"description,omitempty"`

	// Token authenticates the runner on every subsequent call.
	Token string `gorm:"not null;uniqueIndex;size:128" json:"-" masq:"secret"`

	// LastContact is bumped by registration, job requests, and every
	// authenticated job call.
	LastContact Time `json:"last_contact"`

	// RegistrationTokenID references the registration token this runner
	// registered with.
	RegistrationTokenID ULID `gorm:"type:varchar(26);index" json:"registration_token_id"`
}

// TableName returns the table name for Runner.
func (Runner) TableName() string {
	return "runners"
}

// Validate performs basic validation on the runner.
func (r *Runner) Validate() error {
	if r.Name == "" {
		return ErrRunnerNameRequired
	}
	return nil
}

// BeforeCreate validates the runner and fills generated fields.
func (r *Runner) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if r.Token == "" {
		r.Token = NewRunnerTokenString()
	}
	if r.LastContact.IsZero() {
		r.LastContact = Now()
	}
	return r.Validate()
}

// Touch bumps the last-contact timestamp.
func (r *Runner) Touch() {
	r.LastContact = Now()
}

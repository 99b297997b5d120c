package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/providers"
)

// Field names accepted by SupplyField.
const (
	FieldEmail     = "email"
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
)

var (
	// ErrInvalidState indicates an operation was called in a state that does not allow it.
	ErrInvalidState = errors.New("profile: invalid accumulator state")
	// ErrNotFound indicates no profile is in flight.
	ErrNotFound = errors.New("profile: no profile in flight")
	// ErrUnknownField indicates SupplyField received a field it does not track.
	ErrUnknownField = errors.New("profile: unknown field")
)

var requiredFields = []string{FieldEmail}

// State enumerates the accumulator lifecycle.
type State string

const (
	StateEmpty    State = "empty"
	StatePartial  State = "partial"
	StateComplete State = "complete"
	StateConsumed State = "consumed"
)

// SessionAuthProfile is the delegated profile collected for one session.
type SessionAuthProfile struct {
	Type        string            `json:"type"`
	AccessToken string            `json:"accessToken"`
	Profile     providers.Profile `json:"profile"`
}

// IsComplete reports whether every required field is present.
func (p SessionAuthProfile) IsComplete() bool {
	return len(p.MissingFields()) == 0
}

// MissingFields lists the required fields that are still empty.
func (p SessionAuthProfile) MissingFields() []string {
	missing := make([]string, 0, len(requiredFields))
	for _, name := range requiredFields {
		if strings.TrimSpace(p.value(name)) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func (p SessionAuthProfile) value(name string) string {
	switch name {
	case FieldEmail:
		return p.Profile.Email
	case FieldFirstName:
		return p.Profile.FirstName
	case FieldLastName:
		return p.Profile.LastName
	default:
		return ""
	}
}

// Accumulator merges provider-supplied and user-supplied fields until the profile is
// complete. Only one accumulation is in flight per session. The zero value is Empty.
type Accumulator struct {
	state   State
	profile SessionAuthProfile
}

// State returns the current lifecycle state.
func (a *Accumulator) State() State {
	if a.state == "" {
		return StateEmpty
	}
	return a.state
}

// Begin starts a new accumulation, replacing any profile already in flight.
func (a *Accumulator) Begin(providerType, accessToken string, initial providers.Profile) {
	initial.Email = strings.TrimSpace(initial.Email)
	if initial.Email == "" {
		initial.EmailVerified = false
	}
	a.profile = SessionAuthProfile{
		Type:        providerType,
		AccessToken: accessToken,
		Profile:     initial,
	}
	a.recompute()
}

// SupplyField sets a profile field. The value must already have passed field validation.
// A supplied email is never verified.
func (a *Accumulator) SupplyField(name, value string) error {
	if a.State() != StatePartial {
		return fmt.Errorf("%w: supply %s in %s state", ErrInvalidState, name, a.State())
	}
	value = strings.TrimSpace(value)
	switch name {
	case FieldEmail:
		a.profile.Profile.Email = value
		a.profile.Profile.EmailVerified = false
	case FieldFirstName:
		a.profile.Profile.FirstName = value
	case FieldLastName:
		a.profile.Profile.LastName = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	a.recompute()
	return nil
}

// CurrentProfile returns the profile in flight.
func (a *Accumulator) CurrentProfile() (SessionAuthProfile, error) {
	switch a.State() {
	case StatePartial, StateComplete:
		return a.profile, nil
	default:
		return SessionAuthProfile{}, ErrNotFound
	}
}

// MissingFields lists required fields still absent from the profile in flight.
func (a *Accumulator) MissingFields() []string {
	if a.State() != StatePartial {
		return []string{}
	}
	return a.profile.MissingFields()
}

// Consume hands out the completed profile exactly once.
func (a *Accumulator) Consume() (SessionAuthProfile, error) {
	if a.State() != StateComplete {
		return SessionAuthProfile{}, fmt.Errorf("%w: consume in %s state", ErrInvalidState, a.State())
	}
	consumed := a.profile
	a.profile = SessionAuthProfile{}
	a.state = StateConsumed
	return consumed, nil
}

func (a *Accumulator) recompute() {
	if a.profile.IsComplete() {
		a.state = StateComplete
		return
	}
	a.state = StatePartial
}

type accumulatorSnapshot struct {
	State   State              `json:"state"`
	Profile SessionAuthProfile `json:"profile"`
}

// MarshalJSON encodes the accumulator for session storage.
func (a *Accumulator) MarshalJSON() ([]byte, error) {
	return json.Marshal(accumulatorSnapshot{State: a.State(), Profile: a.profile})
}

// UnmarshalJSON restores an accumulator from session storage.
func (a *Accumulator) UnmarshalJSON(data []byte) error {
	var snapshot accumulatorSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	switch snapshot.State {
	case StateEmpty, StatePartial, StateComplete, StateConsumed, "":
	default:
		return fmt.Errorf("%w: unrecognised state %q", ErrInvalidState, snapshot.State)
	}
	a.state = snapshot.State
	a.profile = snapshot.Profile
	return nil
}

package reconcile

import (
	"errors"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/memsync/internal/config"
	"github.com/fyrsmithlabs/memsync/internal/memory"
)

// DefaultSubjectCap is the number of records kept per subject.
const DefaultSubjectCap = 3

// Options controls one reconcile run.
type Options struct {
	// SubjectCap is the maximum number of records kept per normalized
	// subject. 0 disables the cap.
	SubjectCap int

	// MinConfidence drops records whose confidence is below it.
	MinConfidence float64

	// DropExact lists texts removed outright, compared after normalization.
	DropExact []string

	// DryRun computes everything but writes nothing.
	DryRun bool

	// Backup snapshots both stores before they are written.
	Backup bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		SubjectCap: DefaultSubjectCap,
		Backup:     true,
	}
}

// OptionsFromConfig builds run options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SubjectCap:    cfg.Reconcile.SubjectCap,
		MinConfidence: cfg.Reconcile.MinConfidence,
		DropExact:     append([]string(nil), cfg.Reconcile.DropExact...),
		Backup:        cfg.Backup.Enabled,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	var errs []error
	if o.SubjectCap < 0 {
		errs = append(errs, fmt.Errorf("subject cap must be >= 0, got %d", o.SubjectCap))
	}
	if math.IsNaN(o.MinConfidence) || math.IsInf(o.MinConfidence, 0) {
		errs = append(errs, errors.New("min confidence must be finite"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

// dropSet normalizes DropExact. Entries that normalize to "" are kept, so
// an empty string drops records without text.
func (o Options) dropSet() map[string]struct{} {
	if len(o.DropExact) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(o.DropExact))
	for _, s := range o.DropExact {
		set[memory.NormalizeText(s)] = struct{}{}
	}
	return set
}

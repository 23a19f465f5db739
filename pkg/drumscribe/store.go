package drumscribe

import (
	"fmt"

	"github.com/himanishpuri/drumscribe/internal/jobs"
)

// NewStore builds the job store for driver "memory" or "sqlite".
func NewStore(driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return jobs.NewMemoryStore(), nil
	case "sqlite":
		s, err := jobs.OpenSQLStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// observedStore forwards every update of one job to a callback.
type observedStore struct {
	Store
	id       string
	onUpdate func(Job)
}

func (o observedStore) Update(id string, status Status, message string, results *Results) error {
	if err := o.Store.Update(id, status, message, results); err != nil {
		return err
	}
	if id == o.id && o.onUpdate != nil {
		if job, err := o.Store.Get(id); err == nil {
			o.onUpdate(job)
		}
	}
	return nil
}

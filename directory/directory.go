/*
Package directory resolves employee identity and PTO eligibility.

PURPOSE:
  The approval workflow needs two facts about the requester: a display name
  for the entries it writes, and whether the employee's job code accrues
  PTO at all. Both live in an external directory this package fronts.

ELIGIBILITY:
  Eligibility is a property of the job code, not the person. An employee
  whose code is not PTO-eligible can still take vacation or requested-off
  days; only PTO requests are refused.

CACHING:
  Lookups sit on the approval hot path, so the Cached wrapper adds a
  Redis read-through with explicit invalidation on write. The cache is
  optional; without Redis the underlying directory is hit directly.
*/
package directory

import (
	"context"
	"fmt"
)

// Employee is the directory's view of one person.
type Employee struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	JobCode     string `json:"jobCode"`
	PTOEligible bool   `json:"ptoEligible"`
}

// JobCode carries the per-code settings that matter here. Color is the
// schedule display color; it rides along so callers do not need a second
// lookup.
type JobCode struct {
	Code        string `json:"code"`
	PTOEligible bool   `json:"ptoEligible"`
	Color       string `json:"color"`
}

// Directory looks up employees. Lookup returns timeoff.ErrUnknownEmployee
// wrapped when the id does not exist.
type Directory interface {
	Lookup(ctx context.Context, employeeID string) (*Employee, error)
	List(ctx context.Context) ([]Employee, error)
}

// JobCodes resolves per-code settings.
type JobCodes interface {
	Get(ctx context.Context, code string) (*JobCode, error)
}

// Resolve loads an employee and stamps eligibility from their job code.
// A missing or unknown job code means not PTO-eligible, not an error.
func Resolve(ctx context.Context, dir Directory, codes JobCodes, employeeID string) (*Employee, error) {
	emp, err := dir.Lookup(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if codes == nil || emp.JobCode == "" {
		return emp, nil
	}
	jc, err := codes.Get(ctx, emp.JobCode)
	if err != nil {
		return nil, fmt.Errorf("job code %s: %w", emp.JobCode, err)
	}
	if jc != nil {
		emp.PTOEligible = jc.PTOEligible
	}
	return emp, nil
}

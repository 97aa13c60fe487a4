package sbox

import "context"

type step struct {
	name string
	run  func(ctx context.Context) error
}

// runSaga executes steps in order and stops at the first failure. Completed
// steps are not compensated; the returned error names the failing step so
// partial backend state can be found and cleaned up.
func (c *Client) runSaga(ctx context.Context, op string, steps []step) error {
	for i, s := range steps {
		if err := s.run(ctx); err != nil {
			return c.log.ErrorfAndReturn("%s: step %d/%d (%s) failed: %w", op, i+1, len(steps), s.name, err)
		}
		c.log.Debugf("%s: step %d/%d (%s) ok", op, i+1, len(steps), s.name)
	}
	return nil
}

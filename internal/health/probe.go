package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type CheckFunc func(ctx context.Context) error

type Check struct {
	Name  string
	Check CheckFunc
}

type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ProbeRunner answers readiness by running every registered dependency check
// under a shared timeout.
type ProbeRunner struct {
	checks  []Check
	timeout time.Duration
}

func NewProbeRunner(checks ...Check) *ProbeRunner {
	return &ProbeRunner{checks: checks, timeout: 2 * time.Second}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []Result) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ready := true
	results := make([]Result, 0, len(p.checks))
	for _, c := range p.checks {
		res := Result{Name: c.Name, Status: "ok"}
		if err := c.Check(ctx); err != nil {
			ready = false
			res.Status = "unavailable"
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return ready, results
}

func DatabaseCheck(db *gorm.DB) Check {
	return Check{Name: "database", Check: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

func RedisCheck(client redis.UniversalClient) Check {
	return Check{Name: "redis", Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

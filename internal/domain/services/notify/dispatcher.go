package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/domain/entities"
	"github.com/vidora/stars-service/pkg/logger"
)

// Redis list drained by the NFT-gate service to re-check holdings for
// users whose wallets just moved funds.
const nftResyncQueueKey = "nftgate:resync"

func balanceCacheKey(userID uuid.UUID) string {
	return fmt.Sprintf("stars:balance:%s", userID)
}

// Task is one best-effort downstream action
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Cache is the subset of the redis client the dispatcher uses
type Cache interface {
	Del(ctx context.Context, key string) error
	RPush(ctx context.Context, key string, values ...string) error
}

// CDNPurger drops cached documents for a user
type CDNPurger interface {
	Enabled() bool
	PurgePaths(ctx context.Context, paths ...string) error
}

// EmailSender sends the deposit-credited notification
type EmailSender interface {
	Enabled() bool
	SendDepositCredited(ctx context.Context, toEmail string, stars, balance decimal.Decimal) error
}

// EmailLookup resolves the address to notify
type EmailLookup interface {
	GetUserEmail(ctx context.Context, userID uuid.UUID) (string, error)
}

// Dispatcher fans a committed ledger change out to downstream systems:
// balance cache purge, CDN purge, NFT-gate resync and email. Every task
// is best effort; a failure is logged and never reaches the caller, and
// the ledger commit has already happened by the time any task runs.
type Dispatcher struct {
	cache   Cache
	cdn     CDNPurger
	email   EmailSender
	emails  EmailLookup
	logger  *logger.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. cache, cdn and email may each be
// nil to disable the corresponding tasks.
func NewDispatcher(cache Cache, cdn CDNPurger, email EmailSender, emails EmailLookup, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		cache:   cache,
		cdn:     cdn,
		email:   email,
		emails:  emails,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// DepositCredited runs the post-credit fan-out for a deposit
func (d *Dispatcher) DepositCredited(deposit *entities.StarDeposit, stars, newBalance decimal.Decimal) {
	userID := deposit.UserID
	tasks := d.balanceTasks(userID)

	if d.cache != nil {
		tasks = append(tasks, Task{
			Name: "nft_resync",
			Run: func(ctx context.Context) error {
				return d.cache.RPush(ctx, nftResyncQueueKey, fmt.Sprintf("%s:%s", deposit.Chain, userID))
			},
		})
	}

	if d.email != nil && d.email.Enabled() && d.emails != nil {
		tasks = append(tasks, Task{
			Name: "deposit_credited_email",
			Run: func(ctx context.Context) error {
				addr, err := d.emails.GetUserEmail(ctx, userID)
				if err != nil {
					return err
				}
				return d.email.SendDepositCredited(ctx, addr, stars, newBalance)
			},
		})
	}

	d.Dispatch(tasks...)
}

// BalanceChanged runs the cache invalidation fan-out after a refund or
// manual adjustment.
func (d *Dispatcher) BalanceChanged(userID uuid.UUID) {
	d.Dispatch(d.balanceTasks(userID)...)
}

func (d *Dispatcher) balanceTasks(userID uuid.UUID) []Task {
	var tasks []Task
	if d.cache != nil {
		tasks = append(tasks, Task{
			Name: "balance_cache_purge",
			Run: func(ctx context.Context) error {
				return d.cache.Del(ctx, balanceCacheKey(userID))
			},
		})
	}
	if d.cdn != nil && d.cdn.Enabled() {
		tasks = append(tasks, Task{
			Name: "cdn_purge",
			Run: func(ctx context.Context) error {
				return d.cdn.PurgePaths(ctx, fmt.Sprintf("/users/%s/profile.json", userID))
			},
		})
	}
	return tasks
}

// Dispatch runs each task in its own goroutine with a bounded timeout.
// Panics and errors are logged, never returned.
func (d *Dispatcher) Dispatch(tasks ...Task) {
	for _, task := range tasks {
		task := task
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("Notification task panicked", "task", task.Name, "panic", r)
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			if err := task.Run(ctx); err != nil {
				d.logger.Warn("Notification task failed", "task", task.Name, "error", err)
			}
		}()
	}
}

// Wait blocks until in-flight tasks finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/shopspring/decimal"
)

const (
	DefaultTreeDepth = 5
	MaxTreeDepth     = 5
)

var ErrGraphCycleDetected = errors.New("referral graph cycle detected")

// Resolver finds the account owning a referral code. Unknown codes return
// ledger.ErrAccountNotFound.
type Resolver interface {
	GetAccountByCode(ctx context.Context, code string) (*ledger.Account, error)
}

// Loader reads the forest downwards.
type Loader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	ListReferrals(ctx context.Context, referrerCode string) ([]*ledger.Account, error)
}

type Ancestor struct {
	Account *ledger.Account
	Level   int
}

// Ancestors walks the referrer chain upwards, one level per Next call.
type Ancestors struct {
	resolver Resolver
	next     string
	level    int
	visited  map[uuid.UUID]struct{}
}

func NewAncestors(resolver Resolver, start *ledger.Account) *Ancestors {
	visited := map[uuid.UUID]struct{}{start.ID: {}}
	return &Ancestors{
		resolver: resolver,
		next:     start.ReferredBy,
		visited:  visited,
	}
}

// Next returns the next ancestor. ok is false once the chain ends. A missing
// referrer surfaces as ledger.ErrAccountNotFound, a revisited account as
// ErrGraphCycleDetected; both end the walk.
func (it *Ancestors) Next(ctx context.Context) (Ancestor, bool, error) {
	if it.next == "" {
		return Ancestor{}, false, nil
	}
	code := it.next
	it.next = ""

	acct, err := it.resolver.GetAccountByCode(ctx, code)
	if err != nil {
		return Ancestor{}, false, fmt.Errorf("resolve referrer %s: %w", code, err)
	}
	if _, seen := it.visited[acct.ID]; seen {
		return Ancestor{}, false, fmt.Errorf("%w: account %s", ErrGraphCycleDetected, acct.ID)
	}
	it.visited[acct.ID] = struct{}{}
	it.level++
	it.next = acct.ReferredBy
	return Ancestor{Account: acct, Level: it.level}, true, nil
}

type Node struct {
	ID          uuid.UUID       `json:"id"`
	Code        string          `json:"referral_code"`
	Name        string          `json:"name,omitempty"`
	TotalTopUp  decimal.Decimal `json:"total_top_up"`
	ROIEarnings decimal.Decimal `json:"roi_earnings"`
	CreatedAt   time.Time       `json:"created_at"`
	Level       int             `json:"level"`
	Children    []*Node         `json:"children"`
}

// BuildTree materialises descendants of rootID down to maxDepth levels, clamped to [1, MaxTreeDepth].
func BuildTree(ctx context.Context, loader Loader, rootID uuid.UUID, maxDepth int) (*Node, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if maxDepth > MaxTreeDepth {
		maxDepth = MaxTreeDepth
	}

	root, err := loader.GetAccount(ctx, rootID)
	if err != nil {
		return nil, err
	}
	visited := map[uuid.UUID]struct{}{root.ID: {}}
	node := newNode(root, 0)
	if err := expand(ctx, loader, node, root.ReferralCode, maxDepth, visited); err != nil {
		return nil, err
	}
	return node, nil
}

func expand(ctx context.Context, loader Loader, parent *Node, code string, maxDepth int, visited map[uuid.UUID]struct{}) error {
	if parent.Level >= maxDepth {
		return nil
	}
	children, err := loader.ListReferrals(ctx, code)
	if err != nil {
		return fmt.Errorf("list referrals of %s: %w", code, err)
	}
	for _, child := range children {
		if _, seen := visited[child.ID]; seen {
			return fmt.Errorf("%w: account %s", ErrGraphCycleDetected, child.ID)
		}
		visited[child.ID] = struct{}{}
		n := newNode(child, parent.Level+1)
		if err := expand(ctx, loader, n, child.ReferralCode, maxDepth, visited); err != nil {
			return err
		}
		parent.Children = append(parent.Children, n)
	}
	return nil
}

func newNode(a *ledger.Account, level int) *Node {
	return &Node{
		ID:          a.ID,
		Code:        a.ReferralCode,
		Name:        a.Name,
		TotalTopUp:  a.Wallet.TotalTopUp,
		ROIEarnings: a.Wallet.ROIEarnings,
		CreatedAt:   a.CreatedAt,
		Level:       level,
		Children:    []*Node{},
	}
}

// Count returns the number of descendants below n.
func (n *Node) Count() int {
	total := 0
	for _, c := range n.Children {
		total += 1 + c.Count()
	}
	return total
}

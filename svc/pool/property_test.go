package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/svc/pool"
)

// poolWith builds a service with one netflix account per capacity entry.
func poolWith(capacities []int) (*pool.Service, *pool.MemoryStore) {
	c := &clock{now: t0}
	store := pool.NewMemoryStore()
	svc := pool.NewService(store, pool.WithClock(c.Now), pool.WithLogger(logger.Discard()))
	for _, capacity := range capacities {
		_, _, err := svc.CreateAccount(context.Background(), pool.CreateAccountParams{
			Service: "netflix", Credential: "x", Capacity: capacity,
		})
		if err != nil {
			panic(err)
		}
		c.Set(c.Now().Add(time.Second))
	}
	return svc, store
}

func TestAllocateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	capacities := gen.SliceOfN(4, gen.IntRange(1, pool.MaxProfilesPerAccount))
	requests := gen.SliceOf(gen.IntRange(1, 6))

	properties.Property("allocation is all-or-nothing and conserves profiles", prop.ForAll(
		func(caps []int, counts []int) bool {
			svc, _ := poolWith(caps)
			ctx := context.Background()

			total := 0
			for _, c := range caps {
				total += c
			}

			leased := 0
			for _, n := range counts {
				before, _ := svc.Stats(ctx, "netflix")
				alloc, err := svc.Allocate(ctx, request("netflix", n))
				after, _ := svc.Stats(ctx, "netflix")

				if err != nil {
					if !pool.IsInsufficientCapacity(err) || before != after || before.Free >= n {
						return false
					}
					continue
				}
				if len(alloc.Seats) != n || after.Leased != before.Leased+n {
					return false
				}
				leased += n
			}

			final, _ := svc.Stats(ctx, "netflix")
			return final.Total() == total && final.Leased == leased
		},
		capacities,
		requests,
	))

	properties.Property("no profile is ever leased to two orders", prop.ForAll(
		func(caps []int, counts []int) bool {
			svc, _ := poolWith(caps)
			ctx := context.Background()

			owner := make(map[uuid.UUID]uuid.UUID)
			for _, n := range counts {
				req := request("netflix", n)
				alloc, err := svc.Allocate(ctx, req)
				if err != nil {
					continue
				}
				for _, s := range alloc.Seats {
					if _, taken := owner[s.ProfileID]; taken {
						return false
					}
					owner[s.ProfileID] = req.OrderID
				}
			}
			return true
		},
		capacities,
		requests,
	))

	properties.Property("an account is filled before the next one is opened", prop.ForAll(
		func(caps []int, counts []int) bool {
			svc, _ := poolWith(caps)
			ctx := context.Background()

			var order []uuid.UUID
			for _, n := range counts {
				alloc, err := svc.Allocate(ctx, request("netflix", n))
				if err != nil {
					continue
				}
				for _, s := range alloc.Seats {
					order = append(order, s.AccountID)
				}
			}
			// Once the sequence moves on from an account it never returns to it.
			closed := make(map[uuid.UUID]bool)
			for i, id := range order {
				if closed[id] {
					return false
				}
				if i > 0 && order[i-1] != id {
					closed[order[i-1]] = true
				}
			}
			return true
		},
		capacities,
		requests,
	))

	properties.TestingRun(t)
}

package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	service "github.com/okian/teamrun/internal/app"
	"github.com/okian/teamrun/internal/adapters/repository"
	"github.com/okian/teamrun/internal/adapters/repository/sqlite"
	"github.com/okian/teamrun/internal/domain/board"
	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// conflictingStore loses the first n commits to a phantom writer.
type conflictingStore struct {
	repository.Store
	remaining atomic.Int32
	commits   atomic.Int32
}

func (c *conflictingStore) Commit(ctx context.Context, next model.RunState) error {
	c.commits.Add(1)
	if c.remaining.Add(-1) >= 0 {
		return model.Wrap("test.commit", model.ErrConcurrencyConflict, repository.ErrStaleVersion)
	}
	return c.Store.Commit(ctx, next)
}

func tankRun(slots int) types.CreateRunRequest {
	specs := make([]types.RuleSpec, slots)
	for i := range specs {
		specs[i] = rule(false, "tank")
	}
	return types.CreateRunRequest{RunID: "raid", Rules: specs}
}

func TestService_ConcurrentSignups(t *testing.T) {
	Convey("Given a run with fewer slots than signups", t, func() {
		svc := startService()
		defer svc.Stop()
		ctx := context.Background()
		_, err := svc.CreateRun(ctx, tankRun(10))
		So(err, ShouldBeNil)

		Convey("When fifty members sign up at once", func() {
			const members = 50
			var wg sync.WaitGroup
			errs := make(chan error, members)
			for i := 0; i < members; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := svc.Signup(ctx, "raid", selfSignup(fmt.Sprintf("m%02d", i), "tank"))
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)

			Convey("Then every record is kept and the board stays consistent", func() {
				for err := range errs {
					So(err, ShouldBeNil)
				}
				list, err := svc.Signups(ctx, "raid")
				So(err, ShouldBeNil)
				So(len(list.Signups), ShouldEqual, members)
				So(list.Version, ShouldEqual, members)

				b, err := svc.Board(ctx, "raid")
				So(err, ShouldBeNil)
				So(b.Seated(), ShouldEqual, 10)
				So(len(b.Waitlist), ShouldEqual, members-10)
				for i := 1; i < len(b.Waitlist); i++ {
					So(b.Waitlist[i-1].Seq, ShouldBeLessThan, b.Waitlist[i].Seq)
				}
			})
		})
	})
}

func TestService_CommitRetries(t *testing.T) {
	Convey("Given a store that loses commits to another writer", t, func() {
		ctx := context.Background()
		store := &conflictingStore{Store: repository.NewMemoryStore(ctx)}
		svc := startService(service.WithStore(store), service.WithMaxCommitRetries(2))
		defer svc.Stop()
		_, err := svc.CreateRun(ctx, tankRun(2))
		So(err, ShouldBeNil)

		Convey("When fewer conflicts than the retry budget occur", func() {
			store.remaining.Store(2)
			resp, err := svc.Signup(ctx, "raid", selfSignup("A", "tank"))

			Convey("Then the signup lands on the third attempt", func() {
				So(err, ShouldBeNil)
				So(resp.Outcome.Status, ShouldEqual, model.OutcomeSeated)
				So(store.commits.Load(), ShouldEqual, 3)
			})
		})

		Convey("When conflicts outlast the retry budget", func() {
			store.remaining.Store(10)
			resp, err := svc.Signup(ctx, "raid", selfSignup("A", "tank"))

			Convey("Then a concurrency conflict surfaces and nothing is stored", func() {
				So(errors.Is(err, model.ErrConcurrencyConflict), ShouldBeTrue)
				So(resp.Outcome.Code, ShouldEqual, "concurrency_conflict")
				So(store.commits.Load(), ShouldEqual, 3)
				b, _ := svc.Board(ctx, "raid")
				So(b.Version, ShouldEqual, 0)
			})
		})
	})
}

func TestService_SharedSQLite(t *testing.T) {
	Convey("Given two services sharing one SQLite database", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "teamrun.db")
		first, err := sqlite.Open(path)
		So(err, ShouldBeNil)
		second, err := sqlite.Open(path)
		So(err, ShouldBeNil)

		ids := sequentialIDs()
		a := startService(service.WithStore(first), service.WithIDGenerator(ids), service.WithMaxCommitRetries(50))
		b := startService(service.WithStore(second), service.WithIDGenerator(ids), service.WithMaxCommitRetries(50))
		defer a.Stop()
		defer b.Stop()
		_, err = a.CreateRun(ctx, tankRun(4))
		So(err, ShouldBeNil)

		Convey("When both accept signups for the same run concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 12; i++ {
				svc := a
				if i%2 == 1 {
					svc = b
				}
				wg.Add(1)
				go func(svc *service.Service, i int) {
					defer wg.Done()
					_, err := svc.Signup(ctx, "raid", selfSignup(fmt.Sprintf("p%02d", i), "tank"))
					if err != nil {
						t.Errorf("signup %d: %v", i, err)
					}
				}(svc, i)
			}
			wg.Wait()

			Convey("Then version checks serialize them without losing a record", func() {
				st, err := first.Load(ctx, "raid")
				So(err, ShouldBeNil)
				So(len(st.Records), ShouldEqual, 12)
				So(st.Version, ShouldEqual, 12)
				So(board.Validate(st), ShouldBeNil)
			})
		})
	})
}

func TestService_BoardFeed(t *testing.T) {
	Convey("Given a service with a capturing sink", t, func() {
		sink := &captureSink{}
		svc := startService(service.WithSink(sink))
		ctx := context.Background()

		Convey("When a run is created, joined and rebalanced", func() {
			_, err := svc.CreateRun(ctx, tankRun(1))
			So(err, ShouldBeNil)
			_, err = svc.Signup(ctx, "raid", selfSignup("A", "tank"))
			So(err, ShouldBeNil)
			_, err = svc.Signup(ctx, "raid", selfSignup("A", "tank"))
			So(err, ShouldNotBeNil)
			_, err = svc.Rebalance(ctx, "raid")
			So(err, ShouldBeNil)
			svc.Stop()

			Convey("Then each committed version is delivered once and rejections are not", func() {
				So(sink.keys(), ShouldResemble, []string{"raid@0", "raid@1", "raid@2"})
			})
		})
	})
}

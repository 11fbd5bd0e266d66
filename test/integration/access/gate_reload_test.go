// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package access_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/hagate/internal/access/accesstest"
	"github.com/holomush/hagate/internal/access/audit"
	"github.com/holomush/hagate/internal/access/chain"
	"github.com/holomush/hagate/internal/access/engine"
	"github.com/holomush/hagate/internal/access/policy/source"
	"github.com/holomush/hagate/internal/access/role"
	"github.com/holomush/hagate/internal/access/template"
	"github.com/holomush/hagate/internal/gate"
)

const blockedPolicy = `
version: "2.0"
show_notifications: false
roles:
  guest:
    permissions:
      domains:
        light:
          block_all: true
      entities:
        automation.evening:
          allow: true
  family:
    template: "{{ person_home }}"
    fallbackRole: guest
users:
  user-gus:
    role: guest
  user-kim:
    role: family
`

const openPolicy = `
version: "2.0"
show_notifications: false
roles:
  guest:
    permissions:
      domains:
        light:
          allow: true
users:
  user-gus:
    role: guest
`

// memorySink collects audit entries. Safe for concurrent use.
type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *memorySink) WriteSync(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) WriteAsync(entry audit.Entry) error {
	return s.WriteSync(context.Background(), entry)
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

var _ = Describe("Gate over a watched policy file", func() {
	const goroutines = 50

	var (
		ctx     context.Context
		cancel  context.CancelFunc
		path    string
		store   *engine.Store
		states  *template.StaticState
		watcher *source.Watcher
		next    *accesstest.RecordingCaller
		sink    *memorySink
		logger  *audit.Logger
		g       *gate.Gate
	)

	writePolicy := func(content string) {
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		path = filepath.Join(GinkgoT().TempDir(), "policy.yaml")
		writePolicy(blockedPolicy)

		doc, err := source.Load(path)
		Expect(err).NotTo(HaveOccurred())
		store = engine.NewStore(doc)

		states = template.NewStaticState()
		eng := engine.New(store, role.NewResolver(template.NewEvaluator(), states), chain.NewGuard())

		sink = &memorySink{}
		logger = audit.NewLogger(audit.ModeAll, sink, filepath.Join(GinkgoT().TempDir(), "wal.jsonl"))
		next = &accesstest.RecordingCaller{}
		g = gate.New(next, eng, gate.WithAudit(logger))

		watcher = source.NewWatcher(path, store, source.WithRetry(3, 10*time.Millisecond))
		Expect(watcher.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		Expect(watcher.Stop()).To(Succeed())
		cancel()
		Expect(logger.Close()).To(Succeed())
	})

	call := func(subject, domain, service string, entities ...string) gate.ServiceCall {
		return gate.ServiceCall{
			Domain:    domain,
			Service:   service,
			EntityIDs: entities,
			Context:   gate.Context{UserID: subject},
		}
	}

	It("denies concurrently and consistently", func() {
		var wg sync.WaitGroup
		errs := make([]error, goroutines)
		for i := range goroutines {
			wg.Add(1)
			go func(idx int) {
				defer GinkgoRecover()
				defer wg.Done()
				errs[idx] = g.Call(ctx, call("user-gus", "light", "turn_on", fmt.Sprintf("light.room_%d", idx)))
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			Expect(gate.IsAccessDenied(err)).To(BeTrue(), fmt.Sprintf("goroutine %d", i))
		}
		Expect(next.Calls()).To(BeEmpty())
		Eventually(sink.count).Should(Equal(goroutines))
	})

	It("applies an edited policy file without restarting", func() {
		Expect(g.Call(ctx, call("user-gus", "light", "turn_on", "light.kitchen"))).NotTo(Succeed())

		before := store.Snapshot().Revision()
		writePolicy(openPolicy)

		Eventually(func() string { return store.Snapshot().Revision() }, 5*time.Second, 20*time.Millisecond).
			ShouldNot(Equal(before))
		Expect(g.Call(ctx, call("user-gus", "light", "turn_on", "light.kitchen"))).To(Succeed())
	})

	It("keeps the previous policy when the edited file is broken", func() {
		before := store.Snapshot().Revision()
		writePolicy("roles: [not, a, map]\n")

		Consistently(func() string { return store.Snapshot().Revision() }, 300*time.Millisecond, 20*time.Millisecond).
			Should(Equal(before))
		Expect(g.Call(ctx, call("user-gus", "light", "turn_on", "light.kitchen"))).NotTo(Succeed())
	})

	It("lets an authorized automation's sub-calls through while it runs", func() {
		next.OnCall = func(ctx context.Context, c gate.ServiceCall) error {
			if c.Domain != "automation" {
				return nil
			}
			var wg sync.WaitGroup
			errs := make([]error, goroutines)
			for i := range goroutines {
				wg.Add(1)
				go func(idx int) {
					defer GinkgoRecover()
					defer wg.Done()
					sub := call("user-gus", "light", "turn_on", fmt.Sprintf("light.room_%d", idx))
					sub.Context.ParentID = c.Context.ID
					errs[idx] = g.Call(ctx, sub)
				}(i)
			}
			wg.Wait()
			for _, err := range errs {
				if err != nil {
					return err
				}
			}
			return nil
		}

		Expect(g.Call(ctx, call("user-gus", "automation", "trigger", "automation.evening"))).To(Succeed())
		Expect(next.Calls()).To(HaveLen(goroutines + 1))
	})

	It("re-resolves templated roles on every call", func() {
		states.SetVariable("person_home", false)
		Expect(g.Call(ctx, call("user-kim", "light", "turn_on"))).NotTo(Succeed())

		states.SetVariable("person_home", true)
		Expect(g.Call(ctx, call("user-kim", "light", "turn_on"))).To(Succeed())
	})
})

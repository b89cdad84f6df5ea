// Command tenauth-loadtest measures the two request-path hot spots:
// local token verification (pure CPU) and the per-request Redis lookups
// (deny-list check, refresh fetch). Run against a real Redis with
// -redis-addr; without one a throwaway miniredis is started.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sinarlabs/tenauth/jwt"
	"github.com/sinarlabs/tenauth/session"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	manager, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("loadtest-secret-loadtest-secret!"),
		Issuer:        "tenauth-loadtest",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "jwt manager: %v\n", err)
		os.Exit(1)
	}

	store := session.NewStore(client)

	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	tokens := make([]string, *sessions)
	sids := make([]string, *sessions)
	for i := 0; i < *sessions; i++ {
		sid := fmt.Sprintf("sid-%d", i)
		sids[i] = sid
		identity := jwt.Identity{
			Subject:   "loaduser",
			UserID:    "u1",
			Roles:     []string{"r1"},
			Authority: 2,
			OrgID:     "t1",
			SessionID: sid,
		}
		token, _, err := manager.IssueAccess(identity, fmt.Sprintf("jti-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = token

		refresh, ttl, err := manager.IssueRefresh(identity)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue refresh failed: %v\n", err)
			os.Exit(1)
		}
		if err := store.SaveRefresh(ctx, "u1", sid, refresh, ttl); err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	parseStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := manager.Parse(tokens[r.Intn(len(tokens))])
		return err
	})
	denyStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := store.IsDenied(ctx, fmt.Sprintf("jti-%d", r.Intn(len(sids))))
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, ok, err := store.GetRefresh(ctx, "u1", sids[r.Intn(len(sids))])
		if err == nil && !ok {
			return fmt.Errorf("missing session")
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("parse", parseStats)
	printStats("deny-check", denyStats)
	printStats("refresh-get", refreshStats)
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

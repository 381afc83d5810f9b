package safety_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/safety"
	"moonshot-engine/internal/safety/stub"
)

const evmToken = "0xAbCdEf0000000000000000000000000000000001"

func evmReport(fields string) string {
	return `{"code":1,"message":"OK","result":{"0xabcdef0000000000000000000000000000000001":{` + fields + `}}}`
}

const cleanEVM = `"is_honeypot":"0","is_mintable":"0","is_proxy":"0","buy_tax":"0.02","sell_tax":"0.03",
	"holders":[{"percent":"0.12"},{"percent":"0.05"}],"lp_holders":[{"is_locked":1}]`

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_EVM(t *testing.T) {
	tests := []struct {
		name   string
		fields string
		want   []domain.SafetyFlag
	}{
		{"clean", cleanEVM, nil},
		{
			name: "honeypot with high tax",
			fields: `"is_honeypot":"1","is_mintable":"0","is_proxy":"0","buy_tax":"0.01","sell_tax":"0.15",
				"holders":[{"percent":"0.1"}],"lp_holders":[{"is_locked":1}]`,
			want: []domain.SafetyFlag{domain.FlagHoneypot, domain.FlagTaxTooHigh},
		},
		{
			name: "mintable proxy unlocked concentrated",
			fields: `"is_honeypot":"0","is_mintable":"1","is_proxy":"1","trading_cooldown":"1",
				"holders":[{"percent":"0.45"}],"lp_holders":[{"is_locked":0}]`,
			want: []domain.SafetyFlag{
				domain.FlagMintEnabled, domain.FlagProxy, domain.FlagCanPause,
				domain.FlagLPUnlocked, domain.FlagHolderConcentration,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/token_security/56" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("contract_addresses"); got != evmToken {
					t.Errorf("contract_addresses = %s", got)
				}
				if got := r.Header.Get("Authorization"); got != "key" {
					t.Errorf("Authorization = %q", got)
				}
				_, _ = w.Write([]byte(evmReport(tt.fields)))
			})

			c := safety.NewHTTPClient(srv.URL, safety.WithAPIKey("key"))
			v, err := c.Check(context.Background(), domain.ChainBSC, evmToken)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if v.Passed != (len(tt.want) == 0) {
				t.Errorf("Passed = %t with flags %v", v.Passed, v.Flags)
			}
			if len(v.Flags) != len(tt.want) {
				t.Fatalf("flags = %v, want %v", v.Flags, tt.want)
			}
			for _, f := range tt.want {
				if !v.Has(f) {
					t.Errorf("missing flag %s in %v", f, v.Flags)
				}
			}
		})
	}
}

func TestHTTPClient_Solana(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/solana/token_security/Mint111" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"code":1,"result":{"mintAuthority":"Auth111","freezeAuthority":"",
			"lpInfo":{"lpLocked":95},"holders":[{"percentage":"8.5"},{"percentage":"31.2"}]}}`))
	})

	c := safety.NewHTTPClient(srv.URL)
	v, err := c.Check(context.Background(), domain.ChainSolana, "Mint111")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.Passed || !v.Has(domain.FlagMintEnabled) || !v.Has(domain.FlagHolderConcentration) {
		t.Errorf("verdict = %+v", v)
	}
	if v.Has(domain.FlagLPUnlocked) || v.Has(domain.FlagFreezeAuthority) {
		t.Errorf("unexpected flags %v", v.Flags)
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(evmReport(cleanEVM)))
	})

	c := safety.NewHTTPClient(srv.URL, safety.WithRetryDelay(time.Millisecond))
	v, err := c.Check(context.Background(), domain.ChainBSC, evmToken)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Passed || calls.Load() != 2 {
		t.Errorf("passed=%t calls=%d", v.Passed, calls.Load())
	}
}

func TestHTTPClient_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		chain   domain.Chain
		wantErr error
	}{
		{"service error code", http.StatusOK, `{"code":4029,"message":"rate limited"}`, domain.ChainBSC, safety.ErrUnavailable},
		{"token missing", http.StatusOK, `{"code":1,"result":{}}`, domain.ChainBSC, safety.ErrUnavailable},
		{"bad request", http.StatusBadRequest, `bad`, domain.ChainBSC, safety.ErrUnavailable},
		{"server down", http.StatusServiceUnavailable, ``, domain.ChainBSC, safety.ErrUnavailable},
		{"unsupported chain", http.StatusOK, ``, domain.Chain("tron"), safety.ErrUnsupportedChain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			c := safety.NewHTTPClient(srv.URL, safety.WithMaxRetries(1), safety.WithRetryDelay(time.Millisecond))
			if _, err := c.Check(context.Background(), tt.chain, evmToken); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPClient_Cache(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(evmReport(cleanEVM)))
	})

	c := safety.NewHTTPClient(srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.Check(context.Background(), domain.ChainBSC, evmToken); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}

	uncached := safety.NewHTTPClient(srv.URL, safety.WithCacheTTL(0))
	_, _ = uncached.Check(context.Background(), domain.ChainBSC, evmToken)
	_, _ = uncached.Check(context.Background(), domain.ChainBSC, evmToken)
	if calls.Load() != 3 {
		t.Errorf("server calls = %d, want 3", calls.Load())
	}
}

type slowChecker struct{}

func (slowChecker) Check(ctx context.Context, _ domain.Chain, _ string) (domain.SafetyVerdict, error) {
	<-ctx.Done()
	return domain.SafetyVerdict{}, ctx.Err()
}

func TestFailClosed(t *testing.T) {
	s := stub.NewChecker()
	s.Flag(domain.ChainSolana, "bad", domain.FlagHoneypot)
	s.SetErr(domain.ChainSolana, "down", errors.New("connection refused"))

	fc := safety.NewFailClosed(s, time.Second, zerolog.Nop())

	v, err := fc.Check(context.Background(), domain.ChainSolana, "good")
	if err != nil || !v.Passed {
		t.Errorf("good: %+v %v", v, err)
	}
	v, _ = fc.Check(context.Background(), domain.ChainSolana, "bad")
	if v.Passed || !v.Has(domain.FlagHoneypot) {
		t.Errorf("bad: %+v", v)
	}
	v, err = fc.Check(context.Background(), domain.ChainSolana, "down")
	if err != nil {
		t.Fatalf("FailClosed returned error %v", err)
	}
	if v.Passed || !v.Has(domain.FlagUnavailable) {
		t.Errorf("down: %+v", v)
	}

	slow := safety.NewFailClosed(slowChecker{}, 20*time.Millisecond, zerolog.Nop())
	start := time.Now()
	v, err = slow.Check(context.Background(), domain.ChainSolana, "slow")
	if err != nil || v.Passed || !v.Has(domain.FlagUnavailable) {
		t.Errorf("timeout: %+v %v", v, err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not enforced")
	}
}

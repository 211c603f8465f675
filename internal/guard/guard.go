// Package guard はリクエストパスとセッションの有無からアクセス可否を判定する。
//
// 判定は純粋関数Decideで行い、HTTPへの適用はmiddlewareパッケージが担う。
package guard

import (
	"path"
	"strings"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/token"
)

// リダイレクト先のパス
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// PathKind はパスの分類。
type PathKind int

const (
	// KindProtected は認証が必要なパス。未知のパスもここに含まれる。
	KindProtected PathKind = iota
	// KindPublic は未認証ユーザー向けのページ。
	KindPublic
	// KindRoot はルートパス。
	KindRoot
	// KindExempt はガードを適用せず、ハンドラー自身が応答するパス。
	KindExempt
)

func (k PathKind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindRoot:
		return "root"
	case KindExempt:
		return "exempt"
	default:
		return "protected"
	}
}

// Decision はガードの判定結果。
type Decision int

const (
	Allow Decision = iota
	RedirectToLogin
	RedirectToDashboard
)

// String はメトリクスのラベルとして使う文字列を返す。
func (d Decision) String() string {
	switch d {
	case RedirectToLogin:
		return "redirect_login"
	case RedirectToDashboard:
		return "redirect_dashboard"
	default:
		return "allow"
	}
}

// Location はリダイレクト先のパスを返す。Allowの場合は空文字列。
func (d Decision) Location() string {
	switch d {
	case RedirectToLogin:
		return LoginPath
	case RedirectToDashboard:
		return DashboardPath
	default:
		return ""
	}
}

// Rules はパス分類の規則。
type Rules struct {
	// Public は完全一致で判定する公開ページのパス。
	Public []string
	// Exempt は完全一致で判定する適用除外パス。
	Exempt []string
	// ExemptPrefixes は前方一致で判定する適用除外パス。
	ExemptPrefixes []string
}

// DefaultRules は標準のパス分類規則を返す。
func DefaultRules() Rules {
	return Rules{
		Public:         []string{"/login", "/register", "/forgot-password", "/reset-password"},
		Exempt:         []string{"/health", "/metrics"},
		ExemptPrefixes: []string{"/api/auth/"},
	}
}

// Classify はパスを分類する。末尾のスラッシュや冗長な要素は正規化してから判定する。
func (r Rules) Classify(p string) PathKind {
	if p == "" {
		p = "/"
	}
	p = path.Clean("/" + p)

	if p == "/" {
		return KindRoot
	}
	for _, pub := range r.Public {
		if p == pub {
			return KindPublic
		}
	}
	for _, ex := range r.Exempt {
		if p == ex {
			return KindExempt
		}
	}
	for _, prefix := range r.ExemptPrefixes {
		if strings.HasPrefix(p+"/", prefix) {
			return KindExempt
		}
	}
	return KindProtected
}

// Decide はパス分類と認証状態から判定を返す。
//
//	public    + 認証済み → RedirectToDashboard
//	public    + 未認証   → Allow
//	protected + 認証済み → Allow
//	protected + 未認証   → RedirectToLogin
//	root      + 認証済み → RedirectToDashboard
//	root      + 未認証   → RedirectToLogin
//	exempt               → Allow
func Decide(kind PathKind, authenticated bool) Decision {
	switch kind {
	case KindExempt:
		return Allow
	case KindPublic:
		if authenticated {
			return RedirectToDashboard
		}
		return Allow
	case KindRoot:
		if authenticated {
			return RedirectToDashboard
		}
		return RedirectToLogin
	default:
		if authenticated {
			return Allow
		}
		return RedirectToLogin
	}
}

// Verifier はセッショントークンの検証インターフェース。
// token.Issuerが実装する。
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

// Result はEvaluateの結果。
type Result struct {
	Kind     PathKind
	Decision Decision
	// Claims は有効なセッションがある場合のみ設定される。
	Claims *token.Claims
}

// Authenticated は有効なセッションがあったかを返す。
func (r Result) Authenticated() bool {
	return r.Claims != nil
}

// Guard はリクエストごとのアクセス判定を行う。
type Guard struct {
	verifier Verifier
	rules    Rules
	metrics  metrics.MetricsCollector
}

// New はGuardを生成する。mcがnilの場合はメトリクスを記録しない。
func New(verifier Verifier, rules Rules, mc metrics.MetricsCollector) *Guard {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Guard{verifier: verifier, rules: rules, metrics: mc}
}

// Evaluate はパスとCookieの値から判定を返す。
// 署名不正・期限切れ・形式不正のトークンはCookieが無い場合と同じ扱いになる。
func (g *Guard) Evaluate(p, cookieValue string) Result {
	kind := g.rules.Classify(p)
	if kind == KindExempt {
		g.metrics.RecordGuardDecision(Allow.String())
		return Result{Kind: kind, Decision: Allow}
	}

	var claims *token.Claims
	if cookieValue != "" {
		c, err := g.verifier.Verify(cookieValue)
		if err != nil {
			g.metrics.RecordSessionVerifyFailure(token.Reason(err))
		} else {
			claims = c
		}
	}

	d := Decide(kind, claims != nil)
	g.metrics.RecordGuardDecision(d.String())
	return Result{Kind: kind, Decision: d, Claims: claims}
}

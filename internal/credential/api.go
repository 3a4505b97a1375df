package credential

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/gateway-fm/credential-coordinator/internal/pause_switch"
)

// APIServer handles HTTP requests.
type APIServer struct {
	coordinator *Coordinator
	pause       *pause_switch.PauseSwitch
}

// NewAPIServer creates a new API server. pause may be nil when no operator keys are set.
func NewAPIServer(coordinator *Coordinator, pause *pause_switch.PauseSwitch) *APIServer {
	return &APIServer{coordinator: coordinator, pause: pause}
}

// RegisterHandlers registers the HTTP handlers.
func (s *APIServer) RegisterHandlers(r gin.IRouter) {
	r.GET("/", s.viewDashboard)

	v1 := r.Group("/v1")
	v1.POST("/credentials", s.issueCredential)
	v1.POST("/credentials/batch", s.batchIssueCredentials)
	v1.GET("/credentials", s.listCredentials)
	v1.GET("/credentials/:fingerprint", s.getCredential)
	v1.POST("/credentials/verify", s.verifyCredentials)
	v1.POST("/credentials/:fingerprint/revoke", s.revokeCredential)

	v1.GET("/issuers", s.listIssuers)
	v1.POST("/issuers", s.authorizeIssuer)
	v1.DELETE("/issuers/:address", s.revokeIssuer)

	v1.GET("/notifications", s.listNotifications)
	v1.GET("/cache/stats", s.cacheStats)
	v1.DELETE("/cache", s.clearCache)
	v1.GET("/network", s.network)
	v1.POST("/reconcile", s.reconcile)

	v1.POST("/session/pause", s.togglePause)
	v1.POST("/pause", s.handlePauseSwitch(pause_switch.KindPause))
	v1.POST("/resume", s.handlePauseSwitch(pause_switch.KindResume))
}

func statusFor(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrIssuerNotFound) {
		return http.StatusNotFound
	}
	switch KindOf(err) {
	case KindAuthorization:
		return http.StatusForbidden
	case KindState:
		return http.StatusConflict
	case KindData:
		return http.StatusBadRequest
	case KindAvailability:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{
		"error": ReasonOf(err),
		"kind":  KindOf(err),
	})
}

func (s *APIServer) issueCredential(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error(), "kind": KindData})
		return
	}
	rec, err := s.coordinator.IssueCredential(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *APIServer) batchIssueCredentials(c *gin.Context) {
	var body struct {
		Credentials []IssueRequest `json:"credentials"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error(), "kind": KindData})
		return
	}
	results := s.coordinator.BatchIssueCredentials(c.Request.Context(), body.Credentials)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *APIServer) listCredentials(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"credentials": s.coordinator.Credentials()})
}

func (s *APIServer) getCredential(c *gin.Context) {
	rec, err := s.coordinator.Credential(c.Param("fingerprint"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *APIServer) verifyCredentials(c *gin.Context) {
	var body struct {
		Fingerprint  string   `json:"fingerprint"`
		Fingerprints []string `json:"fingerprints"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error(), "kind": KindData})
		return
	}

	if len(body.Fingerprints) > 0 {
		c.JSON(http.StatusOK, gin.H{"results": s.coordinator.BatchVerifyCredentials(c.Request.Context(), body.Fingerprints)})
		return
	}
	res, err := s.coordinator.VerifyCredential(c.Request.Context(), body.Fingerprint)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *APIServer) revokeCredential(c *gin.Context) {
	rec, err := s.coordinator.RevokeCredential(c.Request.Context(), c.Param("fingerprint"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *APIServer) listIssuers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"issuers": s.coordinator.Issuers()})
}

func (s *APIServer) authorizeIssuer(c *gin.Context) {
	var body struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error(), "kind": KindData})
		return
	}
	iss, err := s.coordinator.AuthorizeIssuer(c.Request.Context(), body.Address, body.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, iss)
}

func (s *APIServer) revokeIssuer(c *gin.Context) {
	iss, err := s.coordinator.RevokeIssuer(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, iss)
}

func (s *APIServer) listNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": s.coordinator.Notifications()})
}

func (s *APIServer) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.coordinator.CacheStats())
}

func (s *APIServer) clearCache(c *gin.Context) {
	n, err := s.coordinator.ResetVerificationCache()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (s *APIServer) network(c *gin.Context) {
	info, err := s.coordinator.NetworkInfo(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"network": info,
		"session": s.coordinator.Session(),
	})
}

func (s *APIServer) reconcile(c *gin.Context) {
	report, err := s.coordinator.RequestReconcile(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *APIServer) togglePause(c *gin.Context) {
	paused, err := s.coordinator.TogglePause(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": paused})
}

// handlePauseSwitch handles the keyed operator endpoints
func (s *APIServer) handlePauseSwitch(kind pause_switch.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.pause == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "pause switch is not configured"})
			return
		}

		status, err := s.pause.Register(c.Request.Context(), kind, c.Query("key"))
		switch {
		case errors.Is(err, pause_switch.ErrMissingKey), errors.Is(err, pause_switch.ErrInvalidKey):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		case err != nil:
			slog.Error("pause switch request failed", "kind", kind, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		if status.Triggered {
			c.JSON(http.StatusOK, gin.H{
				"status": string(kind) + "d",
				"paused": s.coordinator.Paused(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":             "attempt recorded",
			"attempts":           status.Attempts,
			"attempts_remaining": status.Remaining,
		})
	}
}

type credentialView struct {
	Record
	IssuedAgo string
	Short     string
}

func shortHash(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:8] + "…" + s[len(s)-6:]
}

func (s *APIServer) viewDashboard(c *gin.Context) {
	records := s.coordinator.Credentials()
	views := make([]credentialView, 0, len(records))
	for _, rec := range records {
		views = append(views, credentialView{
			Record:    rec,
			IssuedAgo: humanize.Time(rec.IssuedTime()),
			Short:     shortHash(rec.Fingerprint),
		})
	}

	stats := s.coordinator.CacheStats()
	data := struct {
		Session       Session
		Paused        bool
		CurrentTime   string
		CacheEntries  string
		CacheExpired  int
		Credentials   []credentialView
		Issuers       []Issuer
		Notifications []Notification
	}{
		Session:       s.coordinator.Session(),
		Paused:        s.coordinator.Paused(),
		CurrentTime:   time.Now().Format("2006-01-02 15:04:05"),
		CacheEntries:  humanize.Comma(int64(stats.Valid)),
		CacheExpired:  stats.Expired,
		Credentials:   views,
		Issuers:       s.coordinator.Issuers(),
		Notifications: s.coordinator.Notifications(),
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := dashboard.Execute(c.Writer, data); err != nil {
		slog.Error("failed to execute dashboard template", "err", err)
	}
}

var dashboard = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"ago": humanize.Time,
}).Parse(dashboardTpl))

const dashboardTpl = `
<!DOCTYPE html>
<html>
<head>
    <title>Credentials</title>
    <style>
        body { font-family: sans-serif; margin: 20px; }
        table { border-collapse: collapse; width: 100%; margin-top: 20px; table-layout: fixed; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; vertical-align: top; }
        th { background-color: #f2f2f2; }
        .revoked { background-color: #f8d7da; }
        .local { background-color: #fff3cd; }
        .onchain { background-color: #d4edda; }
        .config { margin-bottom: 20px; padding: 10px; background-color: #e9ecef; border-radius: 5px; }
        .status { margin-bottom: 20px; padding: 10px; border-radius: 5px; border: 1px solid; }
        .status-running { background-color: #d4edda; border-color: #c3e6cb; color: #155724; }
        .status-paused { background-color: #f8d7da; border-color: #f5c6cb; color: #721c24; }
        code { font-family: 'Courier New', monospace; font-size: 0.9em; }
    </style>
</head>
<body>
    <h1>Credentials</h1>
    <div class="config">
        <strong>Role:</strong> {{.Session.Role}} &nbsp;
        <strong>Mode:</strong> {{.Session.Mode}} &nbsp;
        {{if .Session.WalletAddress}}<strong>Wallet:</strong> <code>{{.Session.WalletAddress}}</code> &nbsp;{{end}}
        <strong>Cached verifications:</strong> {{.CacheEntries}} ({{.CacheExpired}} expired) &nbsp;
        <strong>Time:</strong> {{.CurrentTime}}
    </div>
    {{if .Paused}}
    <div class="status status-paused"><strong>Paused:</strong> issuance and revocation are suspended.</div>
    {{else}}
    <div class="status status-running"><strong>Running:</strong> issuance and revocation are available.</div>
    {{end}}

    <h2>Issued credentials</h2>
    <table>
        <tr>
            <th>Fingerprint</th>
            <th>Student</th>
            <th>Course</th>
            <th>Issuer</th>
            <th>Issued</th>
            <th>State</th>
            <th>Ledger tx</th>
        </tr>
        {{range .Credentials}}
        <tr class="{{if .IsRevoked}}revoked{{else if .IsLocalOnly}}local{{else}}onchain{{end}}">
            <td><code title="{{.Fingerprint}}">{{.Short}}</code></td>
            <td>{{.StudentName}}<br><code>{{.StudentIdentifier}}</code></td>
            <td>{{.CourseName}}</td>
            <td><code>{{.IssuerAddress}}</code></td>
            <td>{{.IssuedAgo}}</td>
            <td>{{.State}}{{if .IsLocalOnly}} (local only){{end}}</td>
            <td>{{if .LedgerTxID}}<code>{{.LedgerTxID}}</code>{{else}}-{{end}}</td>
        </tr>
        {{else}}
        <tr><td colspan="7">No credentials issued yet.</td></tr>
        {{end}}
    </table>

    <h2>Issuers</h2>
    <table>
        <tr><th>Address</th><th>Name</th><th>Authorized</th><th>Since</th></tr>
        {{range .Issuers}}
        <tr class="{{if .IsAuthorized}}onchain{{else}}revoked{{end}}">
            <td><code>{{.Address}}</code></td>
            <td>{{.DisplayName}}</td>
            <td>{{.IsAuthorized}}</td>
            <td>{{ago .AuthorizedAt}}</td>
        </tr>
        {{end}}
    </table>

    <h2>Notifications</h2>
    <ul>
        {{range .Notifications}}
        <li><strong>[{{.Severity}}] {{.Title}}</strong>: {{.Message}} <em>{{ago .Timestamp}}</em></li>
        {{end}}
    </ul>
</body>
</html>
`

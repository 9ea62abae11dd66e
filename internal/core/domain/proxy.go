package domain

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

type ProxyProtocol string

const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxyHTTPS  ProxyProtocol = "https"
	ProxySOCKS5 ProxyProtocol = "socks5"
)

type ProxyStatus string

const (
	ProxyStatusActive   ProxyStatus = "active"
	ProxyStatusError    ProxyStatus = "error"
	ProxyStatusDisabled ProxyStatus = "disabled"
)

const (
	// A proxy flips to error once it has seen enough traffic to judge.
	ProxyMinRequestsForJudgement = 10
	ProxyMinSuccessRatePercent   = 30.0

	// Weight of a new sample in the response-time moving average.
	ProxyResponseTimeEMAWeight = 0.3

	DefaultProxyGroup = "default"
)

// ProxyRecord is one entry in the proxy pool. Health counters are guarded by
// the record's own mutex; the registry map has its own locking.
type ProxyRecord struct {
	ID       string
	Protocol ProxyProtocol
	Host     string
	Port     int
	Username string
	Password string
	Group    string
	Priority int

	mu              sync.Mutex
	Status          ProxyStatus
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	SuccessRate     float64 // percent
	AvgResponseTime float64 // seconds, EMA
	LastCheckTime   time.Time
	LastError       string
}

// URL renders the proxy as a connect URL including credentials.
func (p *ProxyRecord) URL() string {
	u := url.URL{
		Scheme: string(p.Protocol),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// Report folds one request outcome into the health counters and flips the
// record to error when the success rate falls below the floor.
func (p *ProxyRecord) Report(success bool, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.TotalRequests++
	if success {
		p.SuccessRequests++
		secs := elapsed.Seconds()
		if p.AvgResponseTime == 0 {
			p.AvgResponseTime = secs
		} else {
			p.AvgResponseTime = (1-ProxyResponseTimeEMAWeight)*p.AvgResponseTime + ProxyResponseTimeEMAWeight*secs
		}
	} else {
		p.FailedRequests++
	}

	p.SuccessRate = float64(p.SuccessRequests) / float64(p.TotalRequests) * 100

	if p.TotalRequests >= ProxyMinRequestsForJudgement && p.SuccessRate < ProxyMinSuccessRatePercent {
		p.Status = ProxyStatusError
		p.LastError = "success rate below threshold"
	}
}

// MarkChecked records the outcome of an explicit health check.
func (p *ProxyRecord) MarkChecked(ok bool, elapsed time.Duration, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.LastCheckTime = time.Now()
	if ok {
		p.Status = ProxyStatusActive
		p.LastError = ""
		secs := elapsed.Seconds()
		if p.AvgResponseTime == 0 {
			p.AvgResponseTime = secs
		} else {
			p.AvgResponseTime = (1-ProxyResponseTimeEMAWeight)*p.AvgResponseTime + ProxyResponseTimeEMAWeight*secs
		}
	} else {
		p.Status = ProxyStatusError
		p.LastError = errMsg
	}
}

// Snapshot returns a copy of the mutable health state for read-only callers.
func (p *ProxyRecord) Snapshot() ProxyHealth {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProxyHealth{
		ID:              p.ID,
		Group:           p.Group,
		Priority:        p.Priority,
		Status:          p.Status,
		TotalRequests:   p.TotalRequests,
		SuccessRequests: p.SuccessRequests,
		FailedRequests:  p.FailedRequests,
		SuccessRate:     p.SuccessRate,
		AvgResponseTime: p.AvgResponseTime,
		LastCheckTime:   p.LastCheckTime,
		LastError:       p.LastError,
	}
}

// IsActive reports whether the proxy may be handed out.
func (p *ProxyRecord) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Status == ProxyStatusActive
}

// CurrentSuccessRate is a locked read of the success-rate percent.
func (p *ProxyRecord) CurrentSuccessRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SuccessRate
}

// ProxyHealth is an immutable view of one record's health counters.
type ProxyHealth struct {
	ID              string        `json:"id"`
	Group           string        `json:"group"`
	Priority        int           `json:"priority"`
	Status          ProxyStatus   `json:"status"`
	TotalRequests   int64         `json:"total_requests"`
	SuccessRequests int64         `json:"successful_requests"`
	FailedRequests  int64         `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime float64       `json:"avg_response_time_seconds"`
	LastCheckTime   time.Time     `json:"last_check_time"`
	LastError       string        `json:"last_error,omitempty"`
}

// ProxyConfig is the persisted form a pool entry is loaded from.
type ProxyConfig struct {
	ID       string        `mapstructure:"id" json:"id"`
	Protocol ProxyProtocol `mapstructure:"protocol" json:"protocol"`
	Host     string        `mapstructure:"host" json:"host"`
	Port     int           `mapstructure:"port" json:"port"`
	Username string        `mapstructure:"username" json:"username,omitempty"`
	Password string        `mapstructure:"password" json:"password,omitempty"`
	Group    string        `mapstructure:"group" json:"group"`
	Priority int           `mapstructure:"priority" json:"priority"`
}

// NewProxyRecord materialises a pool entry from persisted configuration.
func NewProxyRecord(cfg ProxyConfig) *ProxyRecord {
	group := cfg.Group
	if group == "" {
		group = DefaultProxyGroup
	}
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = ProxyHTTP
	}
	return &ProxyRecord{
		ID:       cfg.ID,
		Protocol: protocol,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Group:    group,
		Priority: cfg.Priority,
		Status:   ProxyStatusActive,
	}
}

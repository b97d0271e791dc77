package models

import (
	"strconv"
	"time"
)

type ProxyProtocol string

const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxyHTTPS  ProxyProtocol = "https"
	ProxySOCKS5 ProxyProtocol = "socks5"
)

// ProxyRecord is one row per proxy endpoint.
type ProxyRecord struct {
	ID                       int64
	Host                     string
	Port                     int
	Protocol                 ProxyProtocol
	LastValidatedAt          *time.Time
	SuccessCount             int
	ConsecutiveFailureCount  int
	IsActive                 bool
}

// Addr returns the host:port dial address.
func (p *ProxyRecord) Addr() string {
	return p.Host + ":" + strconv.Itoa(p.Port)
}

// URL returns the proxy URL string (protocol://host:port) suitable for
// http.Transport.Proxy or a chromedp --proxy-server flag.
func (p *ProxyRecord) URL() string {
	return string(p.Protocol) + "://" + p.Addr()
}

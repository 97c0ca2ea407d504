package sshpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/eth-cscs/firecrest/pkg/config"
	"github.com/eth-cscs/firecrest/pkg/credentials"
	"github.com/eth-cscs/firecrest/pkg/log"
	"github.com/eth-cscs/firecrest/pkg/metrics"
)

// dialFunc opens an authenticated connection for one user. The default
// implementation dials over TCP (optionally through the proxy jump host);
// tests substitute an in-memory transport.
type dialFunc func(ctx context.Context, pool *Pool, username string, creds *credentials.SSHCredentials) (conn, error)

// Pool lazily creates and reuses per-user SSH connections to one cluster
// login node. Acquisition, creation and eviction are serialised by the pool
// lock; command execution happens outside it.
type Pool struct {
	cluster     string
	cfg         config.SSH
	provider    credentials.Provider
	bufferLimit int64

	dial dialFunc

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a pool for one cluster.
func NewPool(cluster string, cfg config.SSH, provider credentials.Provider, bufferLimit int64) *Pool {
	if bufferLimit <= 0 {
		bufferLimit = config.DefaultMaxOpsFileSize
	}
	return &Pool{
		cluster:     cluster,
		cfg:         cfg,
		provider:    provider,
		bufferLimit: bufferLimit,
		dial:        dialSSH,
		clients:     make(map[string]*Client),
	}
}

// Cluster returns the cluster name this pool serves.
func (p *Pool) Cluster() string { return p.cluster }

// IdleTimeout returns the configured idle timeout.
func (p *Pool) IdleTimeout() time.Duration {
	return time.Duration(p.cfg.Timeout.IdleTimeout) * time.Second
}

// WithClient acquires the user's connection, runs fn and stamps the client
// as used on the way out, also when fn fails.
func (p *Pool) WithClient(ctx context.Context, username, accessToken string, fn func(*Client) error) error {
	client, err := p.acquire(ctx, username, accessToken)
	if err != nil {
		return err
	}
	defer client.ResetIdle()
	return fn(client)
}

// acquire implements the pooling algorithm: reuse a live entry, evict a
// closed one, otherwise provision credentials and dial.
func (p *Pool) acquire(ctx context.Context, username, accessToken string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[username]; ok {
		if !client.IsClosed() {
			client.ResetIdle()
			return client, nil
		}
		delete(p.clients, username)
	}

	if len(p.clients) >= p.cfg.MaxClients {
		return nil, ErrPoolCapacityExceeded
	}

	creds, err := p.provider.Credentials(ctx, username, accessToken)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: SSH keys generation", ErrTimeoutLimitExceeded)
		}
		return nil, err
	}

	c, err := p.dial(ctx, p, username, creds)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: SSH connection", ErrTimeoutLimitExceeded)
		}
		return nil, err
	}

	client := newClient(
		p.cluster, username, c,
		time.Duration(p.cfg.Timeout.CommandExecution)*time.Second,
		time.Duration(p.cfg.Timeout.KeepAlive)*time.Second,
		p.bufferLimit,
	)
	p.clients[username] = client
	metrics.SetSSHPoolSize(p.cluster, len(p.clients))
	return client, nil
}

// PruneIdle closes clients idle longer than the idle timeout and drops
// closed clients from the map.
func (p *Pool) PruneIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	idleTimeout := p.IdleTimeout()
	for _, client := range p.clients {
		if client.IsIdle(idleTimeout) {
			client.Close()
		}
	}
	for username, client := range p.clients {
		if client.IsClosed() {
			delete(p.clients, username)
		}
	}
	metrics.SetSSHPoolSize(p.cluster, len(p.clients))
}

// Size returns the number of live pool entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Shutdown forcibly closes every connection.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for username, client := range p.clients {
		client.Close()
		delete(p.clients, username)
	}
	metrics.SetSSHPoolSize(p.cluster, 0)
}

// clientConfig builds the SSH client options from the provisioned
// credentials. Known-hosts checking is disabled: the gateway trusts the
// hosts named in its own configuration.
func clientConfig(username string, creds *credentials.SSHCredentials, connectTimeout time.Duration) (*ssh.ClientConfig, *ssh.Certificate, error) {
	var signer ssh.Signer
	var err error
	if creds.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(creds.PrivateKey), []byte(creds.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(creds.PrivateKey))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	var cert *ssh.Certificate
	if creds.PublicCertificate != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(creds.PublicCertificate))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		var ok bool
		cert, ok = pub.(*ssh.Certificate)
		if !ok {
			return nil, nil, fmt.Errorf("public certificate is not an SSH certificate")
		}
		signer, err = ssh.NewCertSigner(cert, signer)
		if err != nil {
			return nil, nil, fmt.Errorf("certificate does not match private key: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}, cert, nil
}

// dialSSH is the production dialer: optional tunnel through the proxy jump
// host, then the main connection, with the handshake bounded by the login
// timeout.
func dialSSH(ctx context.Context, p *Pool, username string, creds *credentials.SSHCredentials) (conn, error) {
	connectTimeout := time.Duration(p.cfg.Timeout.Connection) * time.Second
	loginTimeout := time.Duration(p.cfg.Timeout.Login) * time.Second

	conf, cert, err := clientConfig(username, creds, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	addr := net.JoinHostPort(p.cfg.Host, fmt.Sprintf("%d", p.cfg.Port))

	var netConn net.Conn
	var proxyClient *ssh.Client
	if p.cfg.ProxyHost != "" {
		proxyAddr := net.JoinHostPort(p.cfg.ProxyHost, fmt.Sprintf("%d", p.cfg.ProxyPort))
		proxyClient, err = dialHandshake(ctx, proxyAddr, conf, connectTimeout, loginTimeout, cert, p, username)
		if err != nil {
			return nil, err
		}
		netConn, err = proxyClient.DialContext(ctx, "tcp", addr)
		if err != nil {
			proxyClient.Close()
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
	} else {
		dialer := net.Dialer{Timeout: connectTimeout}
		netConn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}

	client, err := handshake(netConn, addr, conf, loginTimeout, cert, p, username)
	if err != nil {
		if proxyClient != nil {
			proxyClient.Close()
		}
		return nil, err
	}
	return sshClientConn{client: client}, nil
}

func dialHandshake(ctx context.Context, addr string, conf *ssh.ClientConfig, connectTimeout, loginTimeout time.Duration, cert *ssh.Certificate, p *Pool, username string) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return handshake(netConn, addr, conf, loginTimeout, cert, p, username)
}

func handshake(netConn net.Conn, addr string, conf *ssh.ClientConfig, loginTimeout time.Duration, cert *ssh.Certificate, p *Pool, username string) (*ssh.Client, error) {
	_ = netConn.SetDeadline(time.Now().Add(loginTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, conf)
	if err != nil {
		netConn.Close()
		if isAuthFailure(err) {
			logCertDiagnostics(p.cluster, username, cert, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	_ = netConn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "handshake failed")
}

// logCertDiagnostics records the certificate fields most often behind an
// authentication failure: principals, validity window and serial.
func logCertDiagnostics(cluster, username string, cert *ssh.Certificate, cause error) {
	event := log.WithComponent("sshpool").Error().
		Str("cluster", cluster).
		Str("username", username).
		Err(cause)
	if cert != nil {
		event = event.
			Strs("principals", cert.ValidPrincipals).
			Uint64("serial", cert.Serial).
			Time("valid_after", time.Unix(int64(cert.ValidAfter), 0)).
			Time("valid_before", time.Unix(int64(cert.ValidBefore), 0))
	}
	event.Msg("SSH authentication failed")
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchedulerType identifies the workload manager running on a cluster.
type SchedulerType string

const (
	SchedulerSlurm SchedulerType = "slurm"
	SchedulerPBS   SchedulerType = "pbs"
)

// FileSystemDataType classifies the intended use of a mounted filesystem.
type FileSystemDataType string

const (
	DataTypeUsers   FileSystemDataType = "users"
	DataTypeStore   FileSystemDataType = "store"
	DataTypeArchive FileSystemDataType = "archive"
	DataTypeApps    FileSystemDataType = "apps"
	DataTypeScratch FileSystemDataType = "scratch"
	DataTypeProject FileSystemDataType = "project"
)

const (
	// DefaultMaxOpsFileSize is the largest payload moved through the
	// gateway process itself (5 MiB). Anything larger must go through
	// a transfer job.
	DefaultMaxOpsFileSize = 5 * 1024 * 1024

	// DefaultMaxPartSize is the multipart upload part size (2 GiB).
	DefaultMaxPartSize = 2 * 1024 * 1024 * 1024

	DefaultConnectTimeout = 5
	DefaultLoginTimeout   = 5
	DefaultExecuteTimeout = 5
	DefaultIdleTimeout    = 60
	DefaultKeepAlive      = 5
	DefaultMaxClients     = 100

	DefaultSchedulerTimeout = 10
	DefaultLifecycleDays    = 10

	// DefaultStreamerWaitTimeout is how long a streamer job waits for its
	// peer before giving up (24 h, in seconds).
	DefaultStreamerWaitTimeout = 24 * 60 * 60

	// DefaultStreamerMaxSize caps inbound streamer transfers (5 GiB).
	DefaultStreamerMaxSize = 5 * 1024 * 1024 * 1024
)

// Secret is a string that may be loaded indirectly from disk using the
// "secret_file:/path" notation. Its String method redacts the value so a
// secret can never leak through %v formatting or logging.
type Secret string

// UnmarshalYAML resolves the secret_file: indirection at load time.
func (s *Secret) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	resolved, err := resolveSecret(raw)
	if err != nil {
		return err
	}
	*s = Secret(resolved)
	return nil
}

func resolveSecret(raw string) (string, error) {
	const prefix = "secret_file:"
	if !strings.HasPrefix(raw, prefix) {
		return raw, nil
	}
	path := strings.TrimPrefix(raw, prefix)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("secret file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s Secret) String() string { return "**********" }

// Value returns the actual secret value.
func (s Secret) Value() string { return string(s) }

// SSHTimeouts groups the wall-clock limits applied to SSH connections.
// All values are in seconds.
type SSHTimeouts struct {
	Connection       int `yaml:"connection"`
	Login            int `yaml:"login"`
	CommandExecution int `yaml:"commandExecution"`
	IdleTimeout      int `yaml:"idleTimeout"`
	KeepAlive        int `yaml:"keepAlive"`
}

// SSH describes how to reach a cluster's login node.
type SSH struct {
	Host       string      `yaml:"host"`
	Port       int         `yaml:"port"`
	ProxyHost  string      `yaml:"proxyHost"`
	ProxyPort  int         `yaml:"proxyPort"`
	MaxClients int         `yaml:"maxClients"`
	Timeout    SSHTimeouts `yaml:"timeout"`
}

// Scheduler describes the workload manager of a cluster.
type Scheduler struct {
	Type       SchedulerType `yaml:"type"`
	Version    string        `yaml:"version"`
	APIURL     string        `yaml:"apiUrl"`
	APIVersion string        `yaml:"apiVersion"`
	Timeout    int           `yaml:"timeout"`
}

// ServiceAccount is the technical account used for health probing.
type ServiceAccount struct {
	ClientID string `yaml:"clientId"`
	Secret   Secret `yaml:"secret"`
}

// Probing configures the health prober cadence. Both values are seconds.
type Probing struct {
	Interval int `yaml:"interval"`
	Timeout  int `yaml:"timeout"`
}

// FileSystem is one shared mount on a cluster.
type FileSystem struct {
	Path           string             `yaml:"path"`
	DataType       FileSystemDataType `yaml:"dataType"`
	DefaultWorkDir bool               `yaml:"defaultWorkDir"`
}

// Streamer configures the WebSocket streamer transfer method: the job
// side binds a port in [PortRangeStart, PortRangeEnd) on one of the
// public IPs.
type Streamer struct {
	PortRangeStart int      `yaml:"portRangeStart"`
	PortRangeEnd   int      `yaml:"portRangeEnd"`
	PublicIPs      []string `yaml:"publicIps"`
	WaitTimeout    int64    `yaml:"waitTimeout"`
	MaxSize        int64    `yaml:"maxSize"`
}

// Cluster is one HPC system exposed through the gateway.
type Cluster struct {
	Name                       string         `yaml:"name"`
	SSH                        SSH            `yaml:"ssh"`
	Scheduler                  Scheduler      `yaml:"scheduler"`
	ServiceAccount             ServiceAccount `yaml:"serviceAccount"`
	Probing                    Probing        `yaml:"probing"`
	FileSystems                []FileSystem   `yaml:"fileSystems"`
	DatatransferJobsDirectives []string       `yaml:"datatransferJobsDirectives"`
	Streamer                   *Streamer      `yaml:"streamer"`
}

// WorkDir returns the path of the filesystem flagged as default work dir.
func (c *Cluster) WorkDir() (string, bool) {
	for _, fs := range c.FileSystems {
		if fs.DefaultWorkDir {
			return fs.Path, true
		}
	}
	return "", false
}

// Clusters supports the two YAML shapes of the clusters key: an inline
// list, or the string "path:/dir" naming a directory whose *.yaml files
// each hold one cluster.
type Clusters []Cluster

func (cs *Clusters) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if !strings.HasPrefix(raw, "path:") {
			return fmt.Errorf("clusters: expected a list or \"path:/dir\", got %q", raw)
		}
		return cs.loadDir(strings.TrimPrefix(raw, "path:"))
	}
	var list []Cluster
	if err := value.Decode(&list); err != nil {
		return err
	}
	*cs = list
	return nil
}

func (cs *Clusters) loadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("cluster file %s: %w", path, err)
		}
		var cluster Cluster
		if err := yaml.Unmarshal(data, &cluster); err != nil {
			return fmt.Errorf("cluster file %s: %w", path, err)
		}
		*cs = append(*cs, cluster)
	}
	return nil
}

// SSHUserKeys are statically configured credentials for one user.
type SSHUserKeys struct {
	PrivateKey Secret `yaml:"privateKey"`
	PublicCert string `yaml:"publicCert"`
	Passphrase Secret `yaml:"passphrase"`
}

// SSHCredentials is either a remote signing service ({url, maxConnections})
// or a static user->keys map ({keys: {...}}). Exactly one shape must be set.
type SSHCredentials struct {
	URL            string                 `yaml:"url"`
	MaxConnections int                    `yaml:"maxConnections"`
	Keys           map[string]SSHUserKeys `yaml:"keys"`
}

// Oidc holds the parameters of the identity provider. Token verification
// itself is delegated; the gateway consumes the verified username claim.
type Oidc struct {
	TokenURL      string            `yaml:"tokenUrl"`
	PublicCerts   []string          `yaml:"publicCerts"`
	Scopes        map[string]string `yaml:"scopes"`
	UsernameClaim string            `yaml:"usernameClaim"`
}

// OpenFGA configures the external authorization engine.
type OpenFGA struct {
	URL            string `yaml:"url"`
	Timeout        int    `yaml:"timeout"`
	MaxConnections int    `yaml:"maxConnections"`
}

// Auth groups authentication and optional authorization settings.
type Auth struct {
	Authentication Oidc     `yaml:"authentication"`
	Authorization  *OpenFGA `yaml:"authorization"`
}

// MultipartUpload tunes the outbound (download) multipart staging job.
type MultipartUpload struct {
	UseSplit     bool   `yaml:"useSplit"`
	MaxPartSize  int64  `yaml:"maxPartSize"`
	ParallelRuns int    `yaml:"parallelRuns"`
	TmpFolder    string `yaml:"tmpFolder"`
}

// BucketLifecycleConfiguration expires staged objects after N days.
type BucketLifecycleConfiguration struct {
	Days int32 `yaml:"days"`
}

// Storage describes the S3-compatible staging area.
type Storage struct {
	Name                         string                       `yaml:"name"`
	PrivateURL                   string                       `yaml:"privateUrl"`
	PublicURL                    string                       `yaml:"publicUrl"`
	AccessKeyID                  Secret                       `yaml:"accessKeyId"`
	SecretAccessKey              Secret                       `yaml:"secretAccessKey"`
	Region                       string                       `yaml:"region"`
	TTL                          int64                        `yaml:"ttl"`
	Tenant                       string                       `yaml:"tenant"`
	Multipart                    MultipartUpload              `yaml:"multipart"`
	BucketLifecycleConfiguration BucketLifecycleConfiguration `yaml:"bucketLifecycleConfiguration"`
	MaxOpsFileSize               int64                        `yaml:"maxOpsFileSize"`
	Probing                      *Probing                     `yaml:"probing"`
}

// Settings is the root of the YAML configuration file.
type Settings struct {
	AppDebug       bool             `yaml:"appDebug"`
	ApisRootPath   string           `yaml:"apisRootPath"`
	DocServers     []map[string]any `yaml:"docServers"`
	Auth           Auth             `yaml:"auth"`
	SSHCredentials SSHCredentials   `yaml:"sshCredentials"`
	Clusters       Clusters         `yaml:"clusters"`
	Storage        *Storage         `yaml:"storage"`
}

// Cluster returns the cluster with the given name.
func (s *Settings) Cluster(name string) (*Cluster, bool) {
	for i := range s.Clusters {
		if s.Clusters[i].Name == name {
			return &s.Clusters[i], true
		}
	}
	return nil, false
}

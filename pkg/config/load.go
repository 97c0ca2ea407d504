package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults and validates the settings file at path.
// Any error returned here is fatal for server startup.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	settings.applyDefaults()

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Settings) applyDefaults() {
	if s.Auth.Authentication.UsernameClaim == "" {
		s.Auth.Authentication.UsernameClaim = "preferred_username"
	}

	for i := range s.Clusters {
		c := &s.Clusters[i]
		if c.SSH.Port == 0 {
			c.SSH.Port = 22
		}
		if c.SSH.MaxClients == 0 {
			c.SSH.MaxClients = DefaultMaxClients
		}
		t := &c.SSH.Timeout
		if t.Connection == 0 {
			t.Connection = DefaultConnectTimeout
		}
		if t.Login == 0 {
			t.Login = DefaultLoginTimeout
		}
		if t.CommandExecution == 0 {
			t.CommandExecution = DefaultExecuteTimeout
		}
		if t.IdleTimeout == 0 {
			t.IdleTimeout = DefaultIdleTimeout
		}
		if t.KeepAlive == 0 {
			t.KeepAlive = DefaultKeepAlive
		}
		if c.Scheduler.Timeout == 0 {
			c.Scheduler.Timeout = DefaultSchedulerTimeout
		}
		if c.Streamer != nil {
			if c.Streamer.WaitTimeout == 0 {
				c.Streamer.WaitTimeout = DefaultStreamerWaitTimeout
			}
			if c.Streamer.MaxSize == 0 {
				c.Streamer.MaxSize = DefaultStreamerMaxSize
			}
		}
	}

	if s.Storage != nil {
		if s.Storage.MaxOpsFileSize == 0 {
			s.Storage.MaxOpsFileSize = DefaultMaxOpsFileSize
		}
		if s.Storage.Multipart.MaxPartSize == 0 {
			s.Storage.Multipart.MaxPartSize = DefaultMaxPartSize
		}
		if s.Storage.Multipart.ParallelRuns == 0 {
			s.Storage.Multipart.ParallelRuns = 3
		}
		if s.Storage.Multipart.TmpFolder == "" {
			s.Storage.Multipart.TmpFolder = "/tmp"
		}
		if s.Storage.BucketLifecycleConfiguration.Days == 0 {
			s.Storage.BucketLifecycleConfiguration.Days = DefaultLifecycleDays
		}
	}
}

// Validate checks the invariants the rest of the gateway relies on.
func (s *Settings) Validate() error {
	if s.SSHCredentials.URL != "" && len(s.SSHCredentials.Keys) > 0 {
		return fmt.Errorf("sshCredentials: url and keys are mutually exclusive")
	}
	if s.SSHCredentials.URL == "" && len(s.SSHCredentials.Keys) == 0 {
		return fmt.Errorf("sshCredentials: either url or keys must be configured")
	}

	seen := make(map[string]bool)
	for i := range s.Clusters {
		c := &s.Clusters[i]
		if c.Name == "" {
			return fmt.Errorf("cluster %d: name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate cluster name %q", c.Name)
		}
		seen[c.Name] = true

		if c.SSH.Host == "" {
			return fmt.Errorf("cluster %s: ssh.host is required", c.Name)
		}
		if c.SSH.Timeout.IdleTimeout <= c.SSH.Timeout.CommandExecution {
			return fmt.Errorf("cluster %s: ssh idleTimeout must be greater than commandExecution", c.Name)
		}

		switch c.Scheduler.Type {
		case SchedulerSlurm:
			if c.Scheduler.APIURL != "" && c.Scheduler.APIVersion == "" {
				return fmt.Errorf("cluster %s: scheduler.apiVersion is required with apiUrl", c.Name)
			}
		case SchedulerPBS:
			// PBS only has a CLI client.
		default:
			return fmt.Errorf("cluster %s: unknown scheduler type %q", c.Name, c.Scheduler.Type)
		}

		if c.Probing.Interval <= 0 {
			return fmt.Errorf("cluster %s: probing.interval must be greater than 0", c.Name)
		}
		if c.Probing.Timeout <= 0 {
			return fmt.Errorf("cluster %s: probing.timeout must be greater than 0", c.Name)
		}

		workDirs := 0
		for _, fs := range c.FileSystems {
			if fs.DefaultWorkDir {
				workDirs++
			}
		}
		if workDirs > 1 {
			return fmt.Errorf("cluster %s: only one filesystem may be flagged defaultWorkDir", c.Name)
		}
	}

	if s.Storage != nil {
		if s.Storage.PrivateURL == "" || s.Storage.PublicURL == "" {
			return fmt.Errorf("storage: privateUrl and publicUrl are required")
		}
		if s.Storage.TTL <= 0 {
			return fmt.Errorf("storage: ttl must be greater than 0")
		}
	}
	return nil
}

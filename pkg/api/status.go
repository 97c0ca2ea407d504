package api

import (
	"net/http"

	"github.com/eth-cscs/firecrest/pkg/auth"
	"github.com/eth-cscs/firecrest/pkg/config"
	"github.com/eth-cscs/firecrest/pkg/gateway"
	"github.com/eth-cscs/firecrest/pkg/health"
)

// systemView is the public shape of one cluster: the static descriptor
// plus the latest health snapshot.
type systemView struct {
	Name           string               `json:"name"`
	SSH            sshView              `json:"ssh"`
	Scheduler      schedulerView        `json:"scheduler"`
	FileSystems    []config.FileSystem  `json:"fileSystems,omitempty"`
	ServicesHealth []health.CheckResult `json:"servicesHealth,omitempty"`
}

type sshView struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type schedulerView struct {
	Type    config.SchedulerType `json:"type"`
	Version string               `json:"version,omitempty"`
	APIURL  string               `json:"apiUrl,omitempty"`
}

func systemFromCluster(cluster *gateway.Cluster) systemView {
	cfg := cluster.Config
	return systemView{
		Name: cfg.Name,
		SSH:  sshView{Host: cfg.SSH.Host, Port: cfg.SSH.Port},
		Scheduler: schedulerView{
			Type:    cfg.Scheduler.Type,
			Version: cfg.Scheduler.Version,
			APIURL:  cfg.Scheduler.APIURL,
		},
		FileSystems:    cfg.FileSystems,
		ServicesHealth: cluster.Prober.Snapshot(),
	}
}

func (s *Server) handleSystems(w http.ResponseWriter, r *http.Request) {
	clusters := s.gateway.Clusters()
	systems := make([]systemView, 0, len(clusters))
	for _, cluster := range clusters {
		systems = append(systems, systemFromCluster(cluster))
	}
	writeJSON(w, http.StatusOK, map[string]any{"systems": systems})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	cluster, err := s.cluster(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"system": systemFromCluster(cluster)})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleUserinfo echoes the identity the gateway resolved from the token,
// so users can verify what the backends will see.
func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	identity, err := s.identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	claims, err := auth.DecodeClaims(identity.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": identity.Username,
		"claims":   claims,
	})
}

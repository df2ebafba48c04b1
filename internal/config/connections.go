package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BartekS5/xfer/pkg/database"
	"github.com/BartekS5/xfer/pkg/models"
)

// ConnEnvVar returns the environment variable that overrides connection id.
func ConnEnvVar(id string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return "XFER_CONN_" + strings.ToUpper(r.Replace(id))
}

// ResolveConn finds connection id in the environment first, then in the task
// file. ${VAR} references in file values are expanded.
func ResolveConn(file *models.TaskFile, id string) (database.Conn, error) {
	if id == "" {
		return database.Conn{}, fmt.Errorf("connection id is empty")
	}
	if raw := os.Getenv(ConnEnvVar(id)); raw != "" {
		return database.ParseConn(id, raw)
	}
	if file != nil {
		if raw, ok := file.Connections[id]; ok && raw != "" {
			return database.ParseConn(id, os.ExpandEnv(raw))
		}
	}
	return database.Conn{}, fmt.Errorf("connection %q not found (set %s or add it to connections)", id, ConnEnvVar(id))
}

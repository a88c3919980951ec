package controllers

import (
	"net/http"

	"github.com/zandy2test/gumroad-sub034/api/responses"
	"github.com/zandy2test/gumroad-sub034/pkg/config"
	"github.com/zandy2test/gumroad-sub034/pkg/db"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
	"github.com/zandy2test/gumroad-sub034/pkg/redis"
)

const envHeader = "X-Gumroad-Env"

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady verifies the dependencies a charge pass needs.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		if dbP != nil {
			if err := dbP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "postgres not ready"))
				return
			}
		}
		if redisP != nil {
			if err := redisP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis not ready"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}

package main

import (
	"log/slog"
	"os"
	"time"

	"crispy/database"
	"crispy/handlers"
	"crispy/models"
	"crispy/modlog"
	"crispy/utils"
)

type Application struct {
	db             *database.DatabaseService
	rateLimiter    *models.RateLimiter
	logger         *slog.Logger
	storage        models.StorageService
	modLog         *modlog.Sink
	admin          *utils.AdminGate
	uploadDir      string
	corsOrigins    []string
	requestTimeout time.Duration
}

// Methods to satisfy the handlers.App interface
func (a *Application) DB() *database.DatabaseService    { return a.db }
func (a *Application) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *Application) Logger() *slog.Logger             { return a.logger }
func (a *Application) Storage() models.StorageService   { return a.storage }
func (a *Application) ModLog() handlers.ModLogger       { return a.modLog }
func (a *Application) Admin() *utils.AdminGate          { return a.admin }
func (a *Application) UploadDir() string                { return a.uploadDir }
func (a *Application) CORSOrigins() []string            { return a.corsOrigins }
func (a *Application) RequestTimeout() time.Duration    { return a.requestTimeout }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: app.CORSOrigins(),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Key"},
		MaxAge:         300,
	}))

	// Local image store
	mux.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(app.UploadDir()))))

	mux.Route("/api", func(r chi.Router) {
		if d := app.RequestTimeout(); d > 0 {
			r.Use(middleware.Timeout(d))
		}
		admin := RequireAdmin(app)
		limited := RateLimit(app)

		r.Get("/health", MakeHandler(app, HandleHealth))

		r.Route("/boards", func(r chi.Router) {
			r.Get("/", MakeHandler(app, HandleListBoards))
			r.Get("/name/{name}", MakeHandler(app, HandleGetBoardByName))
			r.Get("/{id}", MakeHandler(app, HandleGetBoard))
			r.With(admin).Post("/", MakeHandler(app, HandleCreateBoard))
			r.With(admin).Put("/{id}", MakeHandler(app, HandleUpdateBoard))
			r.With(admin).Delete("/{id}", MakeHandler(app, HandleDeleteBoard))
		})

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", MakeHandler(app, HandleListThreads))
			r.Get("/{id}", MakeHandler(app, HandleGetThread))
			r.With(limited).Post("/", MakeHandler(app, HandleCreateThread))
			r.With(admin).Put("/{id}", MakeHandler(app, HandleUpdateThread))
			r.With(admin).Delete("/{id}", MakeHandler(app, HandleDeleteThread))
		})

		r.Route("/posts", func(r chi.Router) {
			r.Get("/", MakeHandler(app, HandleListPosts))
			r.Get("/{id}", MakeHandler(app, HandleGetPost))
			r.With(limited).Post("/", MakeHandler(app, HandleCreatePost))
			r.With(admin).Put("/{id}", MakeHandler(app, HandleUpdatePost))
			r.With(admin).Delete("/{id}", MakeHandler(app, HandleDeletePost))
		})

		r.Route("/upload", func(r chi.Router) {
			r.With(limited).Post("/image", MakeHandler(app, HandleUploadImage))
			r.With(limited).Post("/images", MakeHandler(app, HandleUploadImages))
			r.With(admin).Delete("/image/{filename}", MakeHandler(app, HandleDeleteImage))
		})

		r.With(admin).Get("/modlog", MakeHandler(app, HandleModLog))
		r.With(admin).Post("/admin/backup", MakeHandler(app, HandleDatabaseBackup))
	})

	mux.NotFound(MakeHandler(app, HandleNotFound))

	return mux
}

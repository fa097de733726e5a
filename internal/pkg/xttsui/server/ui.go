package server

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"xttsui/internal/pkg/xttsui/lang"
)

//go:embed static/index.html
var staticFS embed.FS

var indexTmpl = template.Must(template.ParseFS(staticFS, "static/index.html"))

type example struct {
	Text     string
	Language string
}

var examples = []example{
	{"Hello, this is a test of the XTTS text to speech system.", "en"},
	{"Bonjour, ceci est un test du système de synthèse vocale XTTS.", "fr"},
	{"Hola, esta es una prueba del sistema de texto a voz XTTS.", "es"},
}

type indexData struct {
	Title     string
	Languages []lang.Option
	Default   string
	Examples  []example
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTmpl.Execute(w, indexData{
		Title:     "XTTS Text-to-Speech",
		Languages: lang.Options(),
		Default:   lang.Default,
		Examples:  examples,
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to render page")
	}
}

package healthchatui

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the chat widget. These templates
// are organized in a directory structure that separates layouts, pages, and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets, the widget script and stylesheet, that turn the pushed
// SSE fragments into a live transcript.
//
//go:embed static/*
var StaticFS embed.FS

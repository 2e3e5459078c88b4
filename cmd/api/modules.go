package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"tramita.org/internal/module"
)

// registerModules installs the built-in workflow catalog. Each handler runs
// inside the submission worker; its return value becomes the submission
// result.
func registerModules(r *module.Registry) error {
	mods := []*module.Module{
		{
			Kind:        "dfd",
			Version:     "1.2.0",
			Title:       "Documento de Formalização da Demanda",
			Roles:       []string{"compras", "pregoeiro"},
			UniqueField: "numero",
			Handler:     handleDFD,
		},
		{
			Kind:        "etp",
			Version:     "1.0.1",
			Title:       "Estudo Técnico Preliminar",
			Roles:       []string{"compras"},
			UniqueField: "numero",
			Handler:     handleETP,
		},
		{
			Kind:    "pesquisa-precos",
			Version: "0.9.0",
			Title:   "Pesquisa de Preços",
			Roles:   []string{"compras", "pregoeiro"},
			Handler: handlePesquisaPrecos,
		},
		{
			Kind:          "diagnostico",
			Version:       "1.0.0",
			Title:         "Diagnóstico do Sistema",
			SuperuserOnly: true,
			Handler:       handleDiagnostico,
		},
	}
	for _, m := range mods {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func requireString(payload map[string]any, field string) (string, error) {
	v, ok := payload[field].(string)
	if ok {
		v = strings.TrimSpace(v)
	}
	if v == "" {
		return "", fmt.Errorf("campo obrigatório ausente: %s", field)
	}
	return v, nil
}

func handleDFD(ctx context.Context, payload map[string]any) (map[string]any, error) {
	numero, err := requireString(payload, "numero")
	if err != nil {
		return nil, err
	}
	objeto, err := requireString(payload, "objeto")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"protocolo": "DFD-" + numero,
		"objeto":    objeto,
		"gerado_em": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func handleETP(ctx context.Context, payload map[string]any) (map[string]any, error) {
	numero, err := requireString(payload, "numero")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"protocolo": "ETP-" + numero,
		"gerado_em": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func handlePesquisaPrecos(ctx context.Context, payload map[string]any) (map[string]any, error) {
	termo, err := requireString(payload, "termo")
	if err != nil {
		return nil, err
	}
	// Placeholder until the price panel integration lands: records the
	// search terms so the request is traceable.
	return map[string]any{
		"termo":         termo,
		"fontes":        []string{"pncp", "painel-precos"},
		"consultado_em": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func handleDiagnostico(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"heap_bytes": ms.HeapAlloc,
		"go_version": runtime.Version(),
	}, nil
}

package service

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

func mustLoadDefaults() map[string]string {
	defaults := make(map[string]string)
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		panic(fmt.Sprintf("parse embedded info text defaults: %v", err))
	}
	return defaults
}

func infoKey(name string) string {
	return "info_" + name
}

func (s *Service) defaultInfoText(name string) (string, error) {
	text, ok := s.defaults[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInfoText, name)
	}
	return text, nil
}

// InfoTextNames возвращает известные имена информационных текстов.
func (s *Service) InfoTextNames() []string {
	return []string{"rules", "guarantees", "help"}
}

// GetInfoText возвращает сохранённый текст или текст по умолчанию.
func (s *Service) GetInfoText(ctx context.Context, name string) (string, error) {
	def, err := s.defaultInfoText(name)
	if err != nil {
		return "", err
	}

	text, ok, err := s.repo.GetSetting(ctx, infoKey(name))
	if err != nil {
		return "", err
	}
	if !ok || text == "" {
		return def, nil
	}
	return text, nil
}

// SetInfoText сохраняет новый текст.
func (s *Service) SetInfoText(ctx context.Context, name, text string) error {
	if _, err := s.defaultInfoText(name); err != nil {
		return err
	}
	if text == "" {
		return invalid(fmt.Errorf("info text %q is empty", name))
	}

	if err := s.repo.SetSetting(ctx, infoKey(name), text); err != nil {
		return err
	}
	s.logger.Info("info text updated", zap.String("name", name), zap.Int("length", len(text)))
	return nil
}

// ResetInfoText восстанавливает текст по умолчанию и возвращает его.
func (s *Service) ResetInfoText(ctx context.Context, name string) (string, error) {
	def, err := s.defaultInfoText(name)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetSetting(ctx, infoKey(name), def); err != nil {
		return "", err
	}
	s.logger.Info("info text reset", zap.String("name", name))
	return def, nil
}

// InitDefaultInfoTexts сохраняет тексты по умолчанию для ещё не заданных ключей.
func (s *Service) InitDefaultInfoTexts(ctx context.Context) error {
	for _, name := range s.InfoTextNames() {
		if err := s.repo.SetSettingIfAbsent(ctx, infoKey(name), s.defaults[name]); err != nil {
			return fmt.Errorf("init info text %s: %w", name, err)
		}
	}
	return nil
}

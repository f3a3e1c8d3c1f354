package usage

import (
	"context"

	"github.com/Protocol-Lattice/repochat/pkg/models"
)

// MeteredModel records the usage of every successful call made through the
// wrapped model. Failed calls are not counted.
type MeteredModel struct {
	Model      models.ChatModel
	Accountant *Accountant
	// Name is used for pricing when the provider does not echo a model name.
	Name string
}

// Meter wraps m so that its calls are charged to a.
func Meter(m models.ChatModel, a *Accountant, name string) *MeteredModel {
	return &MeteredModel{Model: m, Accountant: a, Name: name}
}

func (m *MeteredModel) Chat(ctx context.Context, messages []models.Message) (models.Completion, error) {
	out, err := m.Model.Chat(ctx, messages)
	if err != nil {
		return out, err
	}
	name := out.Model
	if name == "" {
		name = m.Name
	}
	m.Accountant.Record(name, out.Usage.PromptTokens, out.Usage.CompletionTokens, out.Usage.TotalTokens)
	return out, nil
}

var _ models.ChatModel = (*MeteredModel)(nil)

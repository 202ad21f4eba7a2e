package dispatch

import (
	"fmt"
	"hash/fnv"
	"html"
	"strings"

	"clickdivulga/internal/domain"
)

const captionFooter = "📲 Achados e promoções todo dia — ClickDivulga"

var (
	headlineTemplates = []string{
		"🔥 Oferta imperdível: %s",
		"⚡ Corre que acaba: %s",
		"🛒 Achadinho do dia: %s",
	}
	primaryTemplates = []string{
		"Qualidade aprovada por quem já comprou.",
		"Um dos mais vendidos da categoria.",
		"Preço raro de aparecer, aproveite.",
	}
	secondaryTemplates = []string{
		"Envio rápido direto da loja oficial.",
		"Estoque limitado, garanta o seu.",
		"Pagamento facilitado no app.",
	}
)

// BuildCaption собирает подпись к фото: название, цены, текст, ссылка и футер.
// Тело берётся из конфигурации в ручном режиме, иначе генерируется из шаблонов.
func BuildCaption(item domain.CatalogItem, cfg domain.GroupConfig) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(item.Title))
	b.WriteString("</b>\n")

	if item.OriginalPrice > 0 && item.OriginalPrice > item.Price {
		fmt.Fprintf(&b, "De: <s>R$ %.2f</s>\n", item.OriginalPrice)
	}
	fmt.Fprintf(&b, "Por: <b>R$ %.2f</b>\n\n", item.Price)

	b.WriteString(bodyFor(item, cfg))
	b.WriteString("\n\n")
	b.WriteString(item.Link)
	b.WriteString("\n\n")
	b.WriteString(captionFooter)
	return b.String()
}

func bodyFor(item domain.CatalogItem, cfg domain.GroupConfig) string {
	if cfg.TextMode == domain.TextModeManual && strings.TrimSpace(cfg.ManualText) != "" {
		return strings.TrimSpace(cfg.ManualText)
	}
	// Выбор шаблона детерминирован названием, чтобы повторные отправки
	// одного товара выглядели одинаково.
	seed := titleSeed(item.Title)
	lines := []string{
		fmt.Sprintf(headlineTemplates[seed%len(headlineTemplates)], html.EscapeString(item.Title)),
		primaryTemplates[seed%len(primaryTemplates)],
		secondaryTemplates[seed%len(secondaryTemplates)],
	}
	return strings.Join(lines, "\n")
}

func titleSeed(title string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(title)))
	return int(h.Sum32())
}

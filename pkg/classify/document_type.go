package classify

import (
	"strings"

	"github.com/noah-isme/tale-download-api/internal/models"
)

var (
	approvalTokens = []string{
		"aprob", "preaprob", "preacept", "precal", "credito", "autoriz", "conformidad",
		"validac", "approval", "banco", "bcp", "ibk", "interbank", "bbva", "scotia",
	}
	adendaSignals = []string{
		"adenda", "addenda", "addendum", "enmienda", "prorroga", "ampliacion", "modificac", "renuncia hipoteca",
	}
	voucherSignals = []string{
		"voucher", "vaucher", "comprobante", "recibo", "transfer", "transf", "deposit", "operacion", "interbanc",
	}
	paymentTokens = []string{"transfer", "transf", "pago", "abono", "deposit", "operacion"}
)

// documentRule is one ordered predicate of the classifier.
type documentRule struct {
	name   string
	match  func(text) bool
	result models.DocumentType
}

var documentRules = []documentRule{
	{
		name: "firewall-contract-separation",
		match: func(t text) bool {
			return t.hasWord("contrato", "cont") && t.hasWord("separacion", "sep")
		},
		result: models.DocumentTypeOther,
	},
	{
		name: "firewall-payment-schedule",
		match: func(t text) bool {
			return t.hasWord("cronograma", "crono") && t.hasWord("pago", "pagos")
		},
		result: models.DocumentTypeOther,
	},
	{
		name:   "minuta",
		match:  func(t text) bool { return t.contains("minuta", "preminuta", "pre minuta") },
		result: models.DocumentTypeMinuta,
	},
	{
		name:   "adenda",
		match:  func(t text) bool { return t.contains(adendaSignals...) },
		result: models.DocumentTypeAdenda,
	},
	{
		name: "approval-letter",
		match: func(t text) bool {
			return (t.contains("carta") && t.hasWord(approvalTokens...)) ||
				t.hasWord("aprobacion") ||
				t.wordThen("correo", "aprob")
		},
		result: models.DocumentTypeApproval,
	},
	{
		name: "voucher",
		match: func(t text) bool {
			return t.contains(voucherSignals...) ||
				t.hasWord("vou") ||
				(t.contains("constancia") && t.hasWord(paymentTokens...))
		},
		result: models.DocumentTypeVoucher,
	},
	{
		name:   "voucher-weak-payment",
		match:  func(t text) bool { return t.hasWord("pago", "pagos") },
		result: models.DocumentTypeVoucher,
	},
}

// ClassifyText runs the ordered rules over already-normalised text.
func ClassifyText(normalized string) models.DocumentType {
	result, _ := ExplainText(normalized)
	return result
}

// ExplainText is ClassifyText plus the name of the rule that decided, or "default".
func ExplainText(normalized string) (models.DocumentType, string) {
	t := newText(normalized)
	for _, rule := range documentRules {
		if rule.match(t) {
			return rule.result, rule.name
		}
	}
	return models.DocumentTypeOther, "default"
}

// ClassifyDocument classifies a record from its filename and label.
func ClassifyDocument(fileName, label string) models.DocumentType {
	return ClassifyText(NormalizeText(strings.TrimSpace(fileName + " " + label)))
}

// ClassifyRecord fills rec.DocumentType from its filename and label.
func ClassifyRecord(rec *models.DocumentRecord) {
	label := ""
	if rec.Label != nil {
		label = *rec.Label
	}
	rec.DocumentType = ClassifyDocument(rec.FileName, label)
}

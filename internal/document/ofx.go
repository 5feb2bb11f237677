package document

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/Veraticus/redactor/internal/model"
)

// omittedAccount replaces account identifiers dropped under the omit policy.
// OFX requires the element, so it cannot simply disappear.
const omittedAccount = "XXXX"

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// OFXCodec decomposes bank and credit card statements. Account identifiers and
// the free text of each transaction (name, memo, payee) become text units.
// Bank and account ids are marked sensitive as whole fields.
type OFXCodec struct{}

// NewOFXCodec creates an OFX codec.
func NewOFXCodec() *OFXCodec {
	return &OFXCodec{}
}

// Formats implements Codec.
func (c *OFXCodec) Formats() []string {
	return []string{FormatOFX}
}

type ofxField struct {
	value    *ofxgo.String
	required bool
}

type ofxDocument struct {
	resp   *ofxgo.Response
	fields []ofxField
	units  []model.ContentUnit
}

// Decompose implements Codec.
func (c *OFXCodec) Decompose(data []byte) (Parsed, error) {
	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(data))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX: %w", err)
	}
	if len(resp.Bank) == 0 && len(resp.CreditCard) == 0 {
		return nil, fmt.Errorf("OFX contains no bank or credit card statements")
	}

	doc := &ofxDocument{resp: resp}

	for i, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		page := fmt.Sprintf("bank[%d]", i)
		doc.add(page, "bankid", &stmt.BankAcctFrom.BankID, true, model.CategoryRoutingNumber)
		doc.add(page, "acctid", &stmt.BankAcctFrom.AcctID, true, model.CategoryAccountNumber)
		doc.addTransactions(page, stmt.BankTranList)
	}

	for i, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			continue
		}
		page := fmt.Sprintf("creditcard[%d]", i)
		doc.add(page, "acctid", &stmt.CCAcctFrom.AcctID, true, model.CategoryAccountNumber)
		doc.addTransactions(page, stmt.BankTranList)
	}

	return doc, nil
}

// preprocessOFX fixes common formatting issues in exported OFX files.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

func (d *ofxDocument) addTransactions(page string, list *ofxgo.TransactionList) {
	if list == nil {
		return
	}
	for i := range list.Transactions {
		tx := &list.Transactions[i]
		prefix := fmt.Sprintf("stmttrn[%d]", i)
		d.add(page, prefix+".name", &tx.Name, false, "")
		d.add(page, prefix+".memo", &tx.Memo, false, "")
		if tx.Payee != nil {
			d.add(page, prefix+".payee.name", &tx.Payee.Name, false, "")
		}
	}
}

func (d *ofxDocument) add(page, field string, value *ofxgo.String, required bool, category string) {
	text := string(*value)
	if strings.TrimSpace(text) == "" {
		return
	}

	index := len(d.units)
	d.units = append(d.units, model.ContentUnit{
		ID:       page + "." + field,
		Index:    index,
		Kind:     model.UnitText,
		Location: model.Location{Field: page + "." + field},
		Category: category,
		Text:     text,
		End:      len(text),
	})
	d.fields = append(d.fields, ofxField{value: value, required: required})
}

func (d *ofxDocument) Units() []model.ContentUnit {
	return d.units
}

func (d *ofxDocument) Reassemble(parts []Part) ([]byte, error) {
	if err := checkParts(d.units, parts); err != nil {
		return nil, err
	}

	for i, part := range parts {
		field := d.fields[i]
		switch {
		case part.Omit && field.required:
			*field.value = omittedAccount
		case part.Omit:
			*field.value = ""
		default:
			*field.value = ofxgo.String(part.Text)
		}
	}

	buf, err := d.resp.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode OFX: %w", err)
	}
	return buf.Bytes(), nil
}

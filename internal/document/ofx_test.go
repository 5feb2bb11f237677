package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/redactor/internal/model"
)

const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>STARBUCKS STORE #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>-125.00
<FITID>2024012001
<NAME>Whole Foods Market
<MEMO>Card 4111111111111111
</STMTTRN>
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20240125120000[0:GMT]
<TRNAMT>-500.00
<FITID>2024012501
<CHECKNUM>1234
<NAME>CHECK #1234
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func TestOFXCodec(t *testing.T) {
	parsed, err := NewOFXCodec().Decompose([]byte(sampleBankOFX))
	require.NoError(t, err)

	units := parsed.Units()
	require.Len(t, units, 6)

	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
		assert.Equal(t, i, u.Index)
		assert.Equal(t, model.UnitText, u.Kind)
	}
	assert.Equal(t, []string{
		"bank[0].bankid",
		"bank[0].acctid",
		"bank[0].stmttrn[0].name",
		"bank[0].stmttrn[1].name",
		"bank[0].stmttrn[1].memo",
		"bank[0].stmttrn[2].name",
	}, ids)
	assert.Equal(t, "123456789", units[0].Text)
	assert.Equal(t, model.CategoryRoutingNumber, units[0].Category)
	assert.Equal(t, "1234567890", units[1].Text)
	assert.Equal(t, model.CategoryAccountNumber, units[1].Category)
	assert.Empty(t, units[2].Category)
	assert.Equal(t, "Card 4111111111111111", units[4].Text)

	parts := textParts(units, func(u model.ContentUnit) Part { return Part{Text: u.Text} })
	parts[0] = Part{Text: "[REDACTED]"}
	parts[1] = Part{Omit: true}
	parts[4] = Part{Text: "Card [REDACTED]"}

	out, err := parsed.Reassemble(parts)
	require.NoError(t, err)

	text := string(out)
	assert.NotContains(t, text, "123456789")
	assert.NotContains(t, text, "4111111111111111")
	assert.Contains(t, text, "<ACCTID>XXXX")
	assert.Contains(t, text, "Card [REDACTED]")
	assert.Contains(t, text, "STARBUCKS STORE #1234")
}

func TestOFXCodec_Preprocess(t *testing.T) {
	input := "\n\n  OFXHEADER:100\n<SEVERITY>Info</SEVERITY>\n<STMTTRN\n"
	want := "OFXHEADER:100\n<SEVERITY>INFO</SEVERITY>\n<STMTTRN>\n"
	assert.Equal(t, want, preprocessOFX(input))
}

func TestOFXCodec_NoStatements(t *testing.T) {
	_, err := NewOFXCodec().Decompose([]byte("OFXHEADER:100\nDATA:OFXSGML\nVERSION:102\n\n<OFX></OFX>"))
	assert.Error(t, err)
}

package channel

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/paygrid/settlecore/internal/config"
	"github.com/paygrid/settlecore/internal/models"
)

// RTGSAdapter submits real-time gross settlements as pacs.008 credit
// transfers and reads the pacs.002 status report that comes back. The
// business-hours cutoff is enforced by the validator, not here.
type RTGSAdapter struct {
	client   *http.Client
	endpoint string
	bicfi    string
}

func NewRTGSAdapter(cfg config.RTGSChannel) *RTGSAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RTGSAdapter{
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		bicfi:    cfg.BICFI,
	}
}

func (a *RTGSAdapter) Channel() models.Channel { return models.ChannelRTGS }

func (a *RTGSAdapter) Submit(ctx context.Context, tx models.Transaction) (SubmissionResult, error) {
	doc := a.buildPacs008(tx)
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("rtgs: marshal pacs.008: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader([]byte(xml.Header+string(xmlData))))
	if err != nil {
		return SubmissionResult{}, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := a.client.Do(req)
	if err != nil {
		// A transport failure after the write may have reached the gateway.
		log.Printf("[RTGS] transaction %s submission failed: %v", tx.TransactionID, err)
		return SubmissionResult{
			Settled:       false,
			Reason:        models.KindChannelTimeout,
			Detail:        err.Error(),
			RequiresRecon: true,
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SubmissionResult{
			Settled: false,
			Reason:  models.KindChannelRejected,
			Detail:  fmt.Sprintf("gateway returned status %d", resp.StatusCode),
		}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmissionResult{
			Settled:       false,
			Reason:        models.KindChannelTimeout,
			Detail:        fmt.Sprintf("read status report: %v", err),
			RequiresRecon: true,
		}, nil
	}
	return a.parsePacs002(tx, body)
}

// buildPacs008 maps the transaction onto a FIToFICustomerCreditTransfer.
// Interbank settlement amounts travel in major units on the wire.
func (a *RTGSAdapter) buildPacs008(tx models.Transaction) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgID := uuid.New().String()
	now := time.Now()
	settlementDate := now
	amount := float64(tx.Amount) / 100

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(tx.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
					EndToEndId: common.Max35Text(tx.IdempotencyKey),
					TxId:       &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(tx.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(a.bicfi)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(tx.SourceAccountID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(tx.BeneficiaryRef),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(tx.BeneficiaryRef)}[0],
				},
			},
		},
	}
}

// parsePacs002 reads the gateway's payment status report. ACSC/ACCC/ACCP
// settle; RJCT rejects; anything else is ambiguous.
func (a *RTGSAdapter) parsePacs002(tx models.Transaction, body []byte) (SubmissionResult, error) {
	var report pacs_v08.FIToFIPaymentStatusReportV08
	if err := xml.Unmarshal(body, &report); err != nil {
		return SubmissionResult{
			Settled:       false,
			Reason:        models.KindChannelTimeout,
			Detail:        fmt.Sprintf("unparseable status report: %v", err),
			RequiresRecon: true,
		}, nil
	}

	if len(report.TxInfAndSts) == 0 || report.TxInfAndSts[0].TxSts == nil {
		return SubmissionResult{
			Settled:       false,
			Reason:        models.KindChannelTimeout,
			Detail:        "status report carries no transaction status",
			RequiresRecon: true,
		}, nil
	}

	info := report.TxInfAndSts[0]
	externalRef := string(report.GrpHdr.MsgId)
	switch string(*info.TxSts) {
	case "ACSC", "ACCC", "ACCP":
		log.Printf("[RTGS] transaction %s settled, report %s", tx.TransactionID, externalRef)
		return SubmissionResult{ExternalRef: externalRef, Settled: true}, nil
	case "RJCT":
		return SubmissionResult{
			ExternalRef: externalRef,
			Settled:     false,
			Reason:      models.KindChannelRejected,
			Detail:      "gateway rejected the credit transfer",
		}, nil
	default:
		return SubmissionResult{
			ExternalRef:   externalRef,
			Settled:       false,
			Reason:        models.KindChannelTimeout,
			Detail:        fmt.Sprintf("unexpected transaction status %s", *info.TxSts),
			RequiresRecon: true,
		}, nil
	}
}

package portalsync

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var payloadValidate = validator.New()

// GroupByOrder folds flat joined rows into one aggregate per order. Line
// order is the row-assigned sequence number; the candidate query returns
// rows already sorted by (order_no, line_seq), and that order is preserved.
func GroupByOrder(rows []OrderRow) []OrderPayload {
	var payloads []OrderPayload
	index := map[string]int{}

	for _, row := range rows {
		i, ok := index[row.OrderNo]
		if !ok {
			payloads = append(payloads, OrderPayload{
				OrderNo:     row.OrderNo,
				Currency:    row.Currency,
				OrderDate:   row.OrderDate.Format(time.DateOnly),
				ProviderRef: row.ProviderRef,
				Metadata: map[string]string{
					"company_code":   row.CompanyCode,
					"warehouse_code": row.WarehouseCode,
					"buyer_name":     row.BuyerName,
				},
			})
			i = len(payloads) - 1
			index[row.OrderNo] = i
		}

		subtotal := row.UnitPrice.Mul(row.Quantity)
		payloads[i].Lines = append(payloads[i].Lines, PayloadLine{
			LineID:      row.LineID,
			Sequence:    row.LineSeq,
			Code:        row.ItemCode,
			Description: row.Description,
			UnitPrice:   row.UnitPrice,
			Quantity:    row.Quantity,
			Subtotal:    subtotal,
			Total:       subtotal,
		})
	}
	return payloads
}

// BuildPayloads groups rows and produces validated, independently postable
// payloads. Zero-quantity lines are dropped when the option is set; orders
// emptied by that filter are skipped, and orders failing validation are
// dropped and reported. One bad order never aborts the batch, so the error
// return is reserved for nothing and the report carries the outcome.
func BuildPayloads(rows []OrderRow, opts BuildOptions) ([]OrderPayload, BuildReport) {
	grouped := GroupByOrder(rows)

	var (
		out    []OrderPayload
		report BuildReport
	)
	for _, payload := range grouped {
		if opts.FilterZeroQuantities {
			kept := payload.Lines[:0:0]
			for _, line := range payload.Lines {
				if line.Quantity.IsZero() {
					continue
				}
				kept = append(kept, line)
			}
			payload.Lines = kept
		}

		if len(payload.Lines) == 0 {
			report.Skipped = append(report.Skipped, payload.OrderNo)
			continue
		}

		// Cancellations invalidate the ERP-reported totals, so they are
		// always recomputed from the surviving lines.
		subtotal := decimal.Zero
		total := decimal.Zero
		for _, line := range payload.Lines {
			subtotal = subtotal.Add(line.Subtotal)
			total = total.Add(line.Total)
		}
		payload.Subtotal = subtotal
		payload.Total = total

		if err := validatePayload(payload); err != nil {
			report.Invalid = append(report.Invalid, payload.OrderNo)
			continue
		}

		out = append(out, payload)
		report.Built++
	}
	return out, report
}

func validatePayload(payload OrderPayload) error {
	if err := payloadValidate.Struct(payload); err != nil {
		return err
	}
	for _, line := range payload.Lines {
		if line.Quantity.IsNegative() {
			return fmt.Errorf("line %s: negative quantity %s", line.LineID, line.Quantity)
		}
	}
	return nil
}

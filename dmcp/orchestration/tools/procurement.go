package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// Tool names of the procurement sample set.
const (
	ViewPurchaseRequest   = "view_purchase_request"
	SearchPurchaseOrders  = "search_purchase_orders"
	ViewPurchaseOrder     = "view_purchase_order"
	HelpOnReceiptDocument = "help_on_receipt_document"
	ViewMovementDetails   = "view_movement_details"
	ViewInspectionDetails = "view_inspection_details"
)

// SampleReceiptNo is the receipt every receipt lookup finds.
const SampleReceiptNo = "GR-DYN2024"

// Procurement serves canned purchasing data. Latency simulates a backend call
// and is cut short by context cancellation.
type Procurement struct {
	Latency time.Duration
}

// RegisterProcurementTools registers the six procurement tools with cat.
func RegisterProcurementTools(cat *catalog.Catalog) error {
	return (&Procurement{}).Register(cat)
}

// Register registers every descriptor of p with cat.
func (p *Procurement) Register(cat *catalog.Catalog) error {
	for _, d := range p.Descriptors() {
		if err := cat.Register(d); err != nil {
			return fmt.Errorf("failed to register %s: %w", d.Name, err)
		}
	}
	return nil
}

// Descriptors returns the tool descriptors in business flow order.
func (p *Procurement) Descriptors() []catalog.ToolDescriptor {
	return []catalog.ToolDescriptor{
		{
			Name:        ViewPurchaseRequest,
			Description: "Get purchase requisition details including requester info and approval status",
			InputSchema: map[string]catalog.ParamSpec{
				"pr_number": {Type: "string", Required: true, Description: "Purchase request number", Normalize: catalog.NormalizeUpper, Aliases: []string{"pr_no"}},
			},
			OutputSchema: map[string]string{
				"PrNo":          "Purchase request number",
				"RequesterName": "Name of person who made the request",
				"Department":    "Requesting department",
				"PrStatus":      "Current PR status",
				"TotalAmount":   "Requested amount",
			},
			Tags:     []string{"purchase", "request", "requisition", "approval", "stage:pr"},
			Examples: []catalog.Example{{Parameters: map[string]any{"pr_number": "PR123"}}},
			Tool:     typed(ViewPurchaseRequest, p.Latency, viewPurchaseRequest),
		},
		{
			Name:        SearchPurchaseOrders,
			Description: "Search for purchase orders using PR number ranges or PO number ranges",
			InputSchema: map[string]catalog.ParamSpec{
				"pr_no_from": {Type: "string", Description: "Start PR number for search range"},
				"pr_no_to":   {Type: "string", Description: "End PR number for search range"},
				"po_no_from": {Type: "string", Description: "Start PO number for search range"},
				"po_no_to":   {Type: "string", Description: "End PO number for search range"},
			},
			OutputSchema: map[string]string{
				"PoNo":         "Purchase order number",
				"PrNo":         "Related purchase request number",
				"SupplierName": "Supplier name",
				"PoAmount":     "Purchase order amount",
			},
			Tags: []string{"search", "purchase", "order", "stage:po"},
			Examples: []catalog.Example{
				{Description: "orders raised from one request", Parameters: map[string]any{"pr_no_from": "PR123", "pr_no_to": "PR123"}},
			},
			Tool: typed(SearchPurchaseOrders, p.Latency, searchPurchaseOrders),
		},
		{
			Name:        ViewPurchaseOrder,
			Description: "Retrieve comprehensive purchase order information including supplier details, amounts, and line items",
			InputSchema: map[string]catalog.ParamSpec{
				"po_number":    {Type: "string", Required: true, Description: "Purchase order number", Normalize: catalog.NormalizeTrim, Aliases: []string{"po_no", "purchase_order_number"}},
				"amendment_no": {Type: "string", Description: "Amendment number"},
			},
			OutputSchema: map[string]string{
				"PoNo":         "Purchase order number",
				"SupplierName": "Supplier company name",
				"PoAmount":     "Total purchase order amount",
				"PoStatus":     "Current PO status",
				"LineItems":    "PO line items with details",
			},
			Tags: []string{"purchase", "order", "procurement", "supplier", "stage:po"},
			Examples: []catalog.Example{
				{Parameters: map[string]any{"po_number": "PO123", "amendment_no": "0"}},
				{Parameters: map[string]any{"po_number": "JSLTEST46"}},
			},
			Tool: typed(ViewPurchaseOrder, p.Latency, viewPurchaseOrder),
		},
		{
			Name:        HelpOnReceiptDocument,
			Description: "Find receipt documents based on reference document numbers (PO numbers)",
			InputSchema: map[string]catalog.ParamSpec{
				"ref_doc_no_from": {Type: "string", Description: "Reference document number (typically PO number)"},
				"ref_doc_no_to":   {Type: "string", Description: "End reference document number for range search"},
			},
			OutputSchema: map[string]string{
				"ReceiptNo":    "Goods receipt number",
				"RefDocNo":     "Reference document (PO) number",
				"ReceivedDate": "Date goods were received",
			},
			Tags:     []string{"receipt", "document", "reference", "stage:gr"},
			Examples: []catalog.Example{{Parameters: map[string]any{"ref_doc_no_from": "PO123"}}},
			Tool:     typed(HelpOnReceiptDocument, p.Latency, helpOnReceiptDocument),
		},
		{
			Name:        ViewMovementDetails,
			Description: "Get detailed stock movement history and current location using receipt number",
			InputSchema: map[string]catalog.ParamSpec{
				"receipt_no": {Type: "string", Required: true, Description: "Goods receipt number to track movements", Normalize: catalog.NormalizeTrim, Aliases: []string{"receipt_number", "receipt_id"}},
			},
			OutputSchema: map[string]string{
				"ReceiptNo":       "Goods receipt number",
				"MovementHistory": "List of all stock movements",
				"CurrentLocation": "Current storage location",
				"CurrentStock":    "Current stock quantity",
			},
			Tags:     []string{"movement", "stock", "location", "tracking", "stage:movement"},
			Examples: []catalog.Example{{Parameters: map[string]any{"receipt_no": SampleReceiptNo}}},
			Tool:     typed(ViewMovementDetails, p.Latency, viewMovementDetails),
		},
		{
			Name:        ViewInspectionDetails,
			Description: "Retrieve quality inspection results and test data for a receipt",
			InputSchema: map[string]catalog.ParamSpec{
				"receipt_no": {Type: "string", Required: true, Description: "Goods receipt number for inspection lookup", Normalize: catalog.NormalizeTrim, Aliases: []string{"receipt_number", "receipt_id"}},
			},
			OutputSchema: map[string]string{
				"ReceiptNo":        "Goods receipt number",
				"InspectionDate":   "Date of quality inspection",
				"Inspector":        "Name of quality inspector",
				"InspectionResult": "Pass/Fail result",
				"QualityGrade":     "Quality grade assigned",
			},
			Tags:     []string{"inspection", "quality", "testing", "qc", "stage:inspection"},
			Examples: []catalog.Example{{Parameters: map[string]any{"receipt_no": SampleReceiptNo}}},
			Tool:     typed(ViewInspectionDetails, p.Latency, viewInspectionDetails),
		},
	}
}

// typed adapts a function over a decoded argument struct to ports.Tool.
func typed[A any](name string, latency time.Duration, fn func(A) (any, error)) ports.Tool {
	return ports.ToolFunc{
		ToolName: name,
		Fn: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args A
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
				}
			}
			if latency > 0 {
				t := time.NewTimer(latency)
				defer t.Stop()
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-t.C:
				}
			}
			return fn(args)
		},
	}
}

type prArgs struct {
	PrNumber string `json:"pr_number"`
}

func viewPurchaseRequest(a prArgs) (any, error) {
	if a.PrNumber == "" {
		return nil, fmt.Errorf("pr_number is required")
	}
	return map[string]any{
		"PrNo":          a.PrNumber,
		"RequesterName": "Alice Johnson",
		"Department":    "Procurement",
		"PrStatus":      "Converted",
		"TotalAmount":   35000.00,
		"RequestDate":   "2024-11-05",
	}, nil
}

type searchArgs struct {
	PrNoFrom string `json:"pr_no_from"`
	PrNoTo   string `json:"pr_no_to"`
	PoNoFrom string `json:"po_no_from"`
	PoNoTo   string `json:"po_no_to"`
}

func searchPurchaseOrders(a searchArgs) (any, error) {
	if a.PrNoFrom != "" {
		return []map[string]any{
			purchaseOrderRow(orderForRequest(a.PrNoFrom), a.PrNoFrom, "Dynamic Industries Ltd", 35000.00, "2024-11-07"),
		}, nil
	}
	rows := []map[string]any{
		purchaseOrderRow("PO-DYN123", "PR-DYN123", "Dynamic Industries Ltd", 35000.00, "2024-11-07"),
		purchaseOrderRow("PO-DYN124", "PR-DYN124", "Northwind Components", 12500.00, "2024-11-08"),
		purchaseOrderRow("PO-DYN125", "PR-DYN125", "Contoso Metals", 78250.00, "2024-11-10"),
	}
	if a.PoNoFrom == "" {
		return rows, nil
	}
	to := a.PoNoTo
	if to == "" {
		to = a.PoNoFrom
	}
	var out []map[string]any
	for _, r := range rows {
		po := r["PoNo"].(string)
		if po >= a.PoNoFrom && po <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

// orderForRequest derives the order number raised from a request: PR-2024-001 -> PO-2024-001.
func orderForRequest(pr string) string {
	rest := strings.TrimLeft(strings.TrimPrefix(strings.ToUpper(pr), "PR"), "-_")
	return "PO-" + rest
}

func purchaseOrderRow(po, pr, supplier string, amount float64, date string) map[string]any {
	return map[string]any{
		"PoNo":         po,
		"PrNo":         pr,
		"SupplierName": supplier,
		"PoAmount":     amount,
		"PoDate":       date,
		"PoStatus":     "Active",
	}
}

type poArgs struct {
	PoNumber    string `json:"po_number"`
	AmendmentNo string `json:"amendment_no"`
}

func viewPurchaseOrder(a poArgs) (any, error) {
	if a.PoNumber == "" {
		return nil, fmt.Errorf("po_number is required")
	}
	return map[string]any{
		"PoNo":         a.PoNumber,
		"SupplierName": "Dynamic Industries Ltd",
		"PoAmount":     35000.00,
		"PoStatus":     "Active",
		"PoDate":       "2024-11-09",
		"LineItems": []map[string]any{
			{"ItemCode": "DYN001", "Description": "Dynamic Components", "Quantity": 75, "UnitPrice": 466.67},
		},
	}, nil
}

type receiptArgs struct {
	RefDocNoFrom string `json:"ref_doc_no_from"`
	RefDocNoTo   string `json:"ref_doc_no_to"`
}

func helpOnReceiptDocument(a receiptArgs) (any, error) {
	ref := a.RefDocNoFrom
	if ref == "" {
		ref = "PO-DYN123"
	}
	return []map[string]any{
		{
			"ReceiptNo":    SampleReceiptNo,
			"RefDocNo":     ref,
			"ReceivedDate": "2024-11-09",
			"ReceivedQty":  75,
			"AcceptedQty":  75,
			"RejectedQty":  0,
		},
	}, nil
}

type receiptNoArgs struct {
	ReceiptNo string `json:"receipt_no"`
}

func viewMovementDetails(a receiptNoArgs) (any, error) {
	if a.ReceiptNo == "" {
		return nil, fmt.Errorf("receipt_no is required")
	}
	return map[string]any{
		"ReceiptNo": a.ReceiptNo,
		"MovementHistory": []map[string]any{
			{"Date": "2024-11-09T09:00:00", "FromLocation": "Receiving Bay", "ToLocation": "Warehouse B-2", "Quantity": 75, "MovementType": "Goods Receipt"},
			{"Date": "2024-11-09T11:30:00", "FromLocation": "Warehouse B-2", "ToLocation": "Quality Lab", "Quantity": 75, "MovementType": "QC Transfer"},
		},
		"CurrentLocation": "Quality Lab",
		"CurrentStock":    75,
	}, nil
}

func viewInspectionDetails(a receiptNoArgs) (any, error) {
	if a.ReceiptNo == "" {
		return nil, fmt.Errorf("receipt_no is required")
	}
	return map[string]any{
		"ReceiptNo":        a.ReceiptNo,
		"InspectionDate":   "2024-11-09T12:00:00",
		"Inspector":        "Bob Wilson",
		"InspectionResult": "Pass",
		"QualityGrade":     "A+",
		"DefectCount":      0,
		"SampleSize":       8,
		"TestResults": map[string]any{
			"DimensionalCheck": "Pass",
			"MaterialTest":     "Pass",
			"FunctionalTest":   "Pass",
		},
	}, nil
}

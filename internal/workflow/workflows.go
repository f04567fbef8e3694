package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/agentflow/agentflow/internal/activity"
	"github.com/agentflow/agentflow/internal/graph/feedpublish"
	"github.com/agentflow/agentflow/internal/graph/invoicematch"
	"github.com/agentflow/agentflow/internal/memory"
)

// Workflow type names
const (
	TypeInvoiceMatcher = "invoice_matcher"
	TypeFeedPublisher  = "feed_publisher"
	TypeDailyReport    = "daily_report"
)

// RegisterWorkflows adds the platform's workflow definitions
func RegisterWorkflows(r *Runtime) {
	r.RegisterWorkflow(TypeInvoiceMatcher, InvoiceMatcherWorkflow)
	r.RegisterWorkflow(TypeFeedPublisher, FeedPublisherWorkflow)
	r.RegisterWorkflow(TypeDailyReport, DailyReportWorkflow)
}

// InvoiceMatcherInput carries the transactions to reconcile and the open
// invoices they may settle
type InvoiceMatcherInput struct {
	Transactions []invoicematch.Transaction `json:"transactions"`
	Invoices     []invoicematch.Invoice     `json:"invoices,omitempty"`
}

// InvoiceMatcherOutput summarizes the run
type InvoiceMatcherOutput struct {
	Results     []invoicematch.MatchResult `json:"results"`
	AutoMatched int                        `json:"auto_matched"`
	ForReview   int                        `json:"for_review"`
	Unmatched   int                        `json:"unmatched"`
}

// InvoiceMatcherWorkflow reconciles a batch of bank transactions against
// stored invoices, one matching-graph activity per transaction.
func InvoiceMatcherWorkflow(ctx *Context, rawInput json.RawMessage) (json.RawMessage, error) {
	var input InvoiceMatcherInput
	if err := json.Unmarshal(rawInput, &input); err != nil {
		return nil, err
	}

	output := InvoiceMatcherOutput{}
	ctx.SetQueryHandler("progress", func() (interface{}, error) {
		return map[string]int{
			"processed": len(output.Results),
			"total":     len(input.Transactions),
		}, nil
	})

	for _, tx := range input.Transactions {
		if tx.ID == "" {
			tx.ID = ctx.NewID()
		}
		var result invoicematch.MatchResult
		err := ctx.ExecuteActivity(activity.GraphInvoiceMatch, invoicematch.MatchInput{
			Transaction: tx,
			Invoices:    input.Invoices,
		}, &result)
		if err != nil {
			return nil, err
		}
		output.Results = append(output.Results, result)
		switch result.DecisionType {
		case invoicematch.StatusAutoMatch:
			output.AutoMatched++
		case invoicematch.StatusHumanReview:
			output.ForReview++
		default:
			output.Unmatched++
		}
	}

	return json.Marshal(output)
}

// FeedPublisherInput carries the candidate captions for the day
type FeedPublisherInput struct {
	Posts []feedpublish.Post `json:"posts"`
}

// FeedPublisherOutput summarizes the run
type FeedPublisherOutput struct {
	Results    []feedpublish.PublishResult `json:"results"`
	Published  int                         `json:"published"`
	Skipped    int                         `json:"skipped"`
	Duplicates int                         `json:"duplicates"`
}

// FeedPublisherWorkflow pushes the day's captions through the quality
// pipeline. A human can pause publishing mid-run with a "hold" signal;
// a "resume" signal continues it.
func FeedPublisherWorkflow(ctx *Context, rawInput json.RawMessage) (json.RawMessage, error) {
	var input FeedPublisherInput
	if err := json.Unmarshal(rawInput, &input); err != nil {
		return nil, err
	}

	output := FeedPublisherOutput{}
	held := false
	ctx.SetQueryHandler("progress", func() (interface{}, error) {
		return map[string]interface{}{
			"processed": len(output.Results),
			"total":     len(input.Posts),
			"held":      held,
		}, nil
	})

	for _, post := range input.Posts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if _, hold := ctx.ReceiveSignalAsync("hold"); hold {
			held = true
			if err := ctx.WaitSignal("resume", nil); err != nil {
				return nil, err
			}
			held = false
		}

		var result feedpublish.PublishResult
		if err := ctx.ExecuteActivity(activity.GraphFeedPublish, post, &result); err != nil {
			return nil, err
		}
		output.Results = append(output.Results, result)
		switch {
		case result.Duplicate:
			output.Duplicates++
		case result.Published:
			output.Published++
		default:
			output.Skipped++
		}
	}

	return json.Marshal(output)
}

// DailyReportInput carries the day's ad performance per platform
type DailyReportInput struct {
	ReportDate string               `json:"report_date"`
	Reports    []activity.AdReport  `json:"reports"`
}

// DailyReportOutput summarizes where the reports landed
type DailyReportOutput struct {
	MemoryIDs  []string `json:"memory_ids"`
	ArchiveKey string   `json:"archive_key"`
}

// DailyReportWorkflow saves each platform report to memory, archives the
// full batch to object storage, and refreshes memory statistics.
func DailyReportWorkflow(ctx *Context, rawInput json.RawMessage) (json.RawMessage, error) {
	var input DailyReportInput
	if err := json.Unmarshal(rawInput, &input); err != nil {
		return nil, err
	}
	if input.ReportDate == "" {
		input.ReportDate = ctx.Now().Format("2006-01-02")
	}

	output := DailyReportOutput{
		ArchiveKey: fmt.Sprintf("reports/%s.json", input.ReportDate),
	}

	for _, report := range input.Reports {
		if report.ReportDate == "" {
			report.ReportDate = input.ReportDate
		}
		var saved activity.SaveReportResult
		if err := ctx.ExecuteActivity(activity.ReportSave, report, &saved); err != nil {
			return nil, err
		}
		output.MemoryIDs = append(output.MemoryIDs, saved.MemoryID)
	}

	if err := ctx.ExecuteActivity(activity.StorageArchive, activity.ArchiveInput{
		Key:      output.ArchiveKey,
		Document: input.Reports,
	}, nil); err != nil {
		return nil, err
	}

	var stats memory.CollectionStats
	if err := ctx.ExecuteActivity(activity.MemoryStats, struct{}{}, &stats); err != nil {
		return nil, err
	}

	return json.Marshal(output)
}

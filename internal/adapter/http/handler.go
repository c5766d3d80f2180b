package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/neomorfeo/listiq/internal/app"
	"github.com/neomorfeo/listiq/internal/domain"
)

// RecipientResponse is the API representation of a recipient.
type RecipientResponse struct {
	ID                 string            `json:"id" doc:"Recipient id, derived from the normalized email"`
	ListID             string            `json:"listId" doc:"Owning list"`
	UserID             string            `json:"userId" doc:"User that last changed the recipient"`
	Email              string            `json:"email" doc:"Normalized email address"`
	Status             string            `json:"status" doc:"Subscription status"`
	SubscriptionOrigin string            `json:"subscriptionOrigin,omitempty" doc:"How the recipient joined the list"`
	Metadata           map[string]string `json:"metadata,omitempty" doc:"Free-form attributes"`
	ImportID           string            `json:"importId,omitempty" doc:"Import job that created the recipient"`
	RecipientIndex     *int              `json:"recipientIndex,omitempty" doc:"Position within the import job"`
	CreatedAt          string            `json:"createdAt" doc:"Creation timestamp (RFC 3339)"`
	UpdatedAt          string            `json:"updatedAt" doc:"Last update timestamp (RFC 3339)"`
}

func toRecipientResponse(r domain.Recipient) RecipientResponse {
	return RecipientResponse{
		ID:                 r.ID,
		ListID:             r.ListID,
		UserID:             r.UserID,
		Email:              r.Email,
		Status:             string(r.Status),
		SubscriptionOrigin: string(r.SubscriptionOrigin),
		Metadata:           r.Metadata,
		ImportID:           r.ImportID,
		RecipientIndex:     r.RecipientIndex,
		CreatedAt:          r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          r.UpdatedAt.Format(time.RFC3339),
	}
}

// AckResponse confirms that events were durably appended to the stream.
type AckResponse struct {
	Stream string   `json:"stream" doc:"Stream the events were appended to"`
	IDs    []string `json:"ids" doc:"Log-assigned entry ids, in order"`
}

func toAckResponse(a domain.Ack) AckResponse {
	ids := a.IDs
	if ids == nil {
		ids = []string{}
	}
	return AckResponse{Stream: a.Stream, IDs: ids}
}

// ImportStatusResponse is the API representation of an import job.
type ImportStatusResponse struct {
	ListID        string `json:"listId"`
	ImportID      string `json:"importId"`
	Total         int    `json:"total" doc:"Recipients in the whole job"`
	Processed     int    `json:"processed" doc:"Distinct recipients projected so far"`
	State         string `json:"state" doc:"pending, importing, completed or failed"`
	FailureReason string `json:"failureReason,omitempty"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
	FinishedAt    string `json:"finishedAt,omitempty"`
}

func toImportStatusResponse(s domain.ListImportStatus) ImportStatusResponse {
	resp := ImportStatusResponse{
		ListID:        s.ListID,
		ImportID:      s.ImportID,
		Total:         s.Total,
		Processed:     s.Processed,
		State:         string(s.State),
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
	}
	if s.FinishedAt != nil {
		resp.FinishedAt = s.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// ListResponse is the API representation of a recipient list.
type ListResponse struct {
	ID                 string   `json:"id"`
	UserID             string   `json:"userId"`
	MetadataAttributes []string `json:"metadataAttributes" doc:"Metadata keys seen on the list's recipients"`
	RecipientCount     int      `json:"recipientCount"`
	CreatedAt          string   `json:"createdAt"`
	UpdatedAt          string   `json:"updatedAt"`
}

func toListResponse(l domain.List) ListResponse {
	attrs := l.MetadataAttributes
	if attrs == nil {
		attrs = []string{}
	}
	return ListResponse{
		ID:                 l.ID,
		UserID:             l.UserID,
		MetadataAttributes: attrs,
		RecipientCount:     l.RecipientCount,
		CreatedAt:          l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          l.UpdatedAt.Format(time.RFC3339),
	}
}

// RecipientBody is the caller-supplied shape of a recipient.
type RecipientBody struct {
	Email    string            `json:"email" doc:"Email address"`
	Status   string            `json:"status,omitempty" doc:"Initial subscription status"`
	Metadata map[string]string `json:"metadata,omitempty" doc:"Free-form attributes"`
}

func (b RecipientBody) input() domain.RecipientInput {
	return domain.RecipientInput{
		Email:    b.Email,
		Status:   domain.RecipientStatus(b.Status),
		Metadata: b.Metadata,
	}
}

type AckOutput struct {
	Body AckResponse
}

// --- Create Recipient ---

type CreateRecipientInput struct {
	ListID string `path:"listId" doc:"List id"`
	UserID string `header:"X-User-Id" required:"true" doc:"Acting user"`
	Body   struct {
		RecipientBody
		SubscriptionOrigin string `json:"subscriptionOrigin,omitempty" doc:"listImport, signupForm or api"`
	}
}

// --- Update Recipient ---

type UpdateRecipientInput struct {
	ListID      string `path:"listId" doc:"List id"`
	RecipientID string `path:"recipientId" doc:"Recipient id"`
	UserID      string `header:"X-User-Id" required:"true" doc:"Acting user"`
	Body        struct {
		Status   string            `json:"status,omitempty" doc:"New subscription status"`
		Metadata map[string]string `json:"metadata,omitempty" doc:"Attributes to merge"`
	}
}

// --- Delete Recipient ---

type DeleteRecipientInput struct {
	ListID      string `path:"listId" doc:"List id"`
	RecipientID string `path:"recipientId" doc:"Recipient id"`
	UserID      string `header:"X-User-Id" required:"true" doc:"Acting user"`
}

// --- Get Recipient ---

type GetRecipientInput struct {
	ListID      string `path:"listId" doc:"List id"`
	RecipientID string `path:"recipientId" doc:"Recipient id"`
}

type GetRecipientOutput struct {
	Body RecipientResponse
}

// --- List Recipients ---

type ListRecipientsInput struct {
	ListID string `path:"listId" doc:"List id"`
	Status string `query:"status" required:"false" doc:"Filter by subscription status"`
	Origin string `query:"origin" required:"false" doc:"Filter by subscription origin"`
	Email  string `query:"email" required:"false" doc:"Filter by email prefix"`
	Limit  int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
	Sort   string `query:"sort" required:"false" doc:"createdAt, updatedAt or email"`
	Order  string `query:"order" required:"false" doc:"asc or desc"`
}

type ListRecipientsOutput struct {
	Body struct {
		Items []RecipientResponse `json:"items"`
		Total int                 `json:"total" doc:"Matches before paging"`
	}
}

// --- Import Recipients ---

type ImportRecipientsInput struct {
	ListID string `path:"listId" doc:"List id"`
	UserID string `header:"X-User-Id" required:"true" doc:"Acting user"`
	Body   struct {
		ImportID        string          `json:"importId,omitempty" doc:"Import job id, generated when absent"`
		BatchFirstIndex int             `json:"batchFirstIndex,omitempty" doc:"Job position of the first recipient"`
		Total           int             `json:"total,omitempty" doc:"Recipients in the whole job, defaults to this batch"`
		Recipients      []RecipientBody `json:"recipients" doc:"Recipients of this batch"`
	}
}

type ImportCSVInput struct {
	ListID          string `path:"listId" doc:"List id"`
	UserID          string `header:"X-User-Id" required:"true" doc:"Acting user"`
	ImportID        string `query:"importId" required:"false" doc:"Import job id, generated when absent"`
	BatchFirstIndex int    `query:"batchFirstIndex" required:"false" default:"0" doc:"Job position of the first row"`
	Total           int    `query:"total" required:"false" default:"0" doc:"Recipients in the whole job, defaults to this file"`
	RawBody         []byte
}

type ImportOutput struct {
	Body struct {
		ImportID string `json:"importId"`
		AckResponse
	}
}

// --- Import Status ---

type GetImportStatusInput struct {
	ListID   string `path:"listId" doc:"List id"`
	ImportID string `path:"importId" doc:"Import job id"`
}

type GetImportStatusOutput struct {
	Body ImportStatusResponse
}

// --- Lists ---

type ListListsOutput struct {
	Body []ListResponse
}

// Register adds all recipient API routes to the Huma API.
func Register(api huma.API, svc *app.RecipientService) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-recipient",
		Method:        http.MethodPost,
		Path:          "/api/v1/lists/{listId}/recipients",
		Summary:       "Add a recipient to a list",
		Tags:          []string{"Recipients"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *CreateRecipientInput) (*AckOutput, error) {
		ack, err := svc.PublishRecipientCreated(ctx, domain.CreateRecipient{
			ListID:             input.ListID,
			UserID:             input.UserID,
			Recipient:          input.Body.input(),
			SubscriptionOrigin: domain.SubscriptionOrigin(input.Body.SubscriptionOrigin),
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &AckOutput{Body: toAckResponse(ack)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "update-recipient",
		Method:        http.MethodPatch,
		Path:          "/api/v1/lists/{listId}/recipients/{recipientId}",
		Summary:       "Change a recipient's status or metadata",
		Tags:          []string{"Recipients"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *UpdateRecipientInput) (*AckOutput, error) {
		ack, err := svc.PublishRecipientUpdated(ctx, domain.UpdateRecipient{
			ListID:      input.ListID,
			UserID:      input.UserID,
			RecipientID: input.RecipientID,
			Changes: domain.RecipientChanges{
				Status:   domain.RecipientStatus(input.Body.Status),
				Metadata: input.Body.Metadata,
			},
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &AckOutput{Body: toAckResponse(ack)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-recipient",
		Method:        http.MethodDelete,
		Path:          "/api/v1/lists/{listId}/recipients/{recipientId}",
		Summary:       "Remove a recipient from a list",
		Tags:          []string{"Recipients"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *DeleteRecipientInput) (*AckOutput, error) {
		ack, err := svc.PublishRecipientDeleted(ctx, domain.DeleteRecipient{
			ListID:      input.ListID,
			UserID:      input.UserID,
			RecipientID: input.RecipientID,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &AckOutput{Body: toAckResponse(ack)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-recipient",
		Method:      http.MethodGet,
		Path:        "/api/v1/lists/{listId}/recipients/{recipientId}",
		Summary:     "Get a recipient",
		Tags:        []string{"Recipients"},
	}, func(ctx context.Context, input *GetRecipientInput) (*GetRecipientOutput, error) {
		r, err := svc.GetRecipient(ctx, input.ListID, input.RecipientID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetRecipientOutput{Body: toRecipientResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-recipients",
		Method:      http.MethodGet,
		Path:        "/api/v1/lists/{listId}/recipients",
		Summary:     "Search a list's recipients",
		Tags:        []string{"Recipients"},
	}, func(ctx context.Context, input *ListRecipientsInput) (*ListRecipientsOutput, error) {
		conditions := domain.Conditions{
			Status:             domain.RecipientStatus(input.Status),
			SubscriptionOrigin: domain.SubscriptionOrigin(input.Origin),
			EmailPrefix:        input.Email,
		}
		options := domain.SearchOptions{
			domain.OptionLimit:  input.Limit,
			domain.OptionOffset: input.Offset,
			domain.OptionSort:   input.Sort,
			domain.OptionOrder:  input.Order,
		}

		res, err := svc.ListRecipients(ctx, input.ListID, conditions, options)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &ListRecipientsOutput{}
		out.Body.Total = res.Total
		out.Body.Items = make([]RecipientResponse, len(res.Items))
		for i, r := range res.Items {
			out.Body.Items[i] = toRecipientResponse(r)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-recipients",
		Method:        http.MethodPost,
		Path:          "/api/v1/lists/{listId}/imports",
		Summary:       "Import a batch of recipients",
		Description:   "The whole batch is rejected when any recipient is invalid.",
		Tags:          []string{"Imports"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *ImportRecipientsInput) (*ImportOutput, error) {
		recipients := make([]domain.RecipientInput, len(input.Body.Recipients))
		for i, r := range input.Body.Recipients {
			recipients[i] = r.input()
		}
		return publishImport(ctx, svc, input.ListID, input.UserID, input.Body.ImportID, input.Body.BatchFirstIndex, input.Body.Total, recipients)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-recipients-csv",
		Method:        http.MethodPost,
		Path:          "/api/v1/lists/{listId}/imports/csv",
		Summary:       "Import recipients from a CSV file",
		Description:   "The first row names the columns. An email column is required.",
		Tags:          []string{"Imports"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *ImportCSVInput) (*ImportOutput, error) {
		recipients, err := svc.MapCSVToRecipients(ctx, string(input.RawBody))
		if err != nil {
			return nil, toHumaError(err)
		}
		return publishImport(ctx, svc, input.ListID, input.UserID, input.ImportID, input.BatchFirstIndex, input.Total, recipients)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-import-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/lists/{listId}/imports/{importId}",
		Summary:     "Get the progress of an import job",
		Tags:        []string{"Imports"},
	}, func(ctx context.Context, input *GetImportStatusInput) (*GetImportStatusOutput, error) {
		status, err := svc.GetImportStatus(ctx, input.ListID, input.ImportID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetImportStatusOutput{Body: toImportStatusResponse(status)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-lists",
		Method:      http.MethodGet,
		Path:        "/api/v1/lists",
		Summary:     "List all recipient lists",
		Tags:        []string{"Lists"},
	}, func(ctx context.Context, _ *struct{}) (*ListListsOutput, error) {
		lists, err := svc.AllLists(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]ListResponse, len(lists))
		for i, l := range lists {
			resp[i] = toListResponse(l)
		}
		return &ListListsOutput{Body: resp}, nil
	})
}

func publishImport(ctx context.Context, svc *app.RecipientService, listID, userID, importID string, first, total int, recipients []domain.RecipientInput) (*ImportOutput, error) {
	if importID == "" {
		importID = uuid.NewString()
	}
	if total == 0 {
		total = first + len(recipients)
	}

	ack, err := svc.PublishRecipientImported(ctx, domain.ImportBatch{
		ListID:          listID,
		UserID:          userID,
		ImportID:        importID,
		BatchFirstIndex: first,
		Total:           total,
		Recipients:      recipients,
	})
	if err != nil {
		return nil, toHumaError(err)
	}

	out := &ImportOutput{}
	out.Body.ImportID = importID
	out.Body.AckResponse = toAckResponse(ack)
	return out, nil
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrRecipientNotFound) {
		return huma.Error404NotFound("recipient not found")
	}
	if errors.Is(err, domain.ErrImportNotFound) {
		return huma.Error404NotFound("import not found")
	}

	var importErr *domain.ImportValidationError
	if errors.As(err, &importErr) {
		// Locations point into the request body; the value is the job index.
		details := make([]error, len(importErr.Failures))
		for i, f := range importErr.Failures {
			details[i] = &huma.ErrorDetail{
				Message:  f.Err.Error(),
				Location: fmt.Sprintf("recipients[%d]", f.RecipientIndex-importErr.BatchFirstIndex),
				Value:    f.RecipientIndex,
			}
		}
		return huma.Error422UnprocessableEntity(importErr.Error(), details...)
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return huma.Error422UnprocessableEntity(valErr.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error409Conflict(trErr.Error())
	}

	var logErr *domain.LogWriteError
	if errors.As(err, &logErr) {
		return huma.Error503ServiceUnavailable("event log unavailable")
	}

	return huma.Error500InternalServerError("internal server error")
}

package handlers

import (
	"context"

	"bookings/db"
)

type StorageInterface interface {
	CreateDeal(ctx context.Context, deal *db.Deal) error
	GetDeal(ctx context.Context, dealID int) (*db.Deal, error)
	UpdateDealStatus(ctx context.Context, dealID int, status string) (*db.Deal, error)
	GetDeals(ctx context.Context, statuses []string, limit, offset int) ([]db.Deal, error)
	SearchDeals(ctx context.Context, term string, limit, offset int) ([]db.Deal, error)

	CreateFirmOffer(ctx context.Context, offer *db.FirmOffer) error
	GetFirmOffer(ctx context.Context, offerID int) (*db.FirmOffer, error)
	GetFirmOfferByProposal(ctx context.Context, proposalID int) (*db.FirmOffer, error)
	GetFirmOfferBySpeakerToken(ctx context.Context, token string) (*db.FirmOffer, error)
	SubmitFirmOffer(ctx context.Context, offer *db.FirmOffer) error
	MarkFirmOfferSent(ctx context.Context, offerID int) (*db.FirmOffer, error)
	SetFirmOfferDecision(ctx context.Context, offerID int, status string) (*db.FirmOffer, error)

	CreateContract(ctx context.Context, contract *db.Contract) error
	GetContract(ctx context.Context, contractID int) (*db.Contract, error)
	GetContracts(ctx context.Context, limit, offset int) ([]db.Contract, error)
	GetContractBySigningToken(ctx context.Context, token string) (*db.Contract, string, error)
	MarkContractSent(ctx context.Context, contractID int) (*db.Contract, error)
	SignContract(ctx context.Context, party, token, signerName, signature string) (*db.Contract, error)

	CreateProject(ctx context.Context, project *db.Project) error
	GetProjectByDeal(ctx context.Context, dealID int) (*db.Project, error)
}

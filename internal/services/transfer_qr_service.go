package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/fortunepoints/backend/internal/models"
)

// TransferQRService lets a user publish a "send me points" request as a QR
// code. The encoded request lives in Redis for a short window and is single-use:
// redeeming it deletes the key and executes the transfer.
type TransferQRService struct {
	redis   *redis.Client
	points  *PointsService
	timeout time.Duration
}

type transferRequest struct {
	ToAccountID string `json:"toAccountId"`
	Amount      int64  `json:"amount"`
	Note        string `json:"note,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Nonce       string `json:"nonce"`
}

func NewTransferQRService(redisClient *redis.Client, points *PointsService, timeout time.Duration) *TransferQRService {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &TransferQRService{redis: redisClient, points: points, timeout: timeout}
}

// GenerateTransferQR encodes a transfer request for toAccountID and returns the
// opaque code plus a base64 PNG rendering of it.
func (s *TransferQRService) GenerateTransferQR(ctx context.Context, toAccountID string, amount int64, note string) (string, string, error) {
	if amount <= 0 {
		return "", "", ErrInvalidAmount
	}

	request := transferRequest{
		ToAccountID: toAccountID,
		Amount:      amount,
		Note:        note,
		Timestamp:   time.Now().Unix(),
		Nonce:       generateNonce(),
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("points:qr:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, s.timeout).Err(); err != nil {
		return "", "", storageErr("store transfer request", err)
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// RedeemTransferQR resolves the code and transfers the requested amount from
// fromAccountID to the account that published the QR.
func (s *TransferQRService) RedeemTransferQR(ctx context.Context, fromAccountID, code string) (*models.TransferResult, error) {
	key := fmt.Sprintf("points:qr:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrInvalidTransferCode
	}
	if err != nil {
		return nil, storageErr("read transfer request", err)
	}

	var request transferRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, ErrInvalidTransferCode
	}

	// Consume before transferring so a retried redeem cannot double-pay. The
	// deleted count is the arbiter: of two redeemers racing past the same GET,
	// only the one whose DEL removes the key may transfer.
	deleted, err := s.redis.Del(ctx, key).Result()
	if err != nil {
		return nil, storageErr("consume transfer request", err)
	}
	if deleted == 0 {
		return nil, ErrInvalidTransferCode
	}

	description := request.Note
	if description == "" {
		description = "points transfer via QR"
	}

	return s.points.Transfer(ctx, fromAccountID, request.ToAccountID, request.Amount, description)
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

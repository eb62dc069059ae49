package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// BeforeCreate hooks assign surrogate keys in Go so SQLite and Postgres behave alike.

func (o *Order) BeforeCreate(*gorm.DB) error { ensureID(&o.ID); return nil }
func (i *OrderItem) BeforeCreate(*gorm.DB) error { ensureID(&i.ID); return nil }
func (l *OrderStatusLog) BeforeCreate(*gorm.DB) error { ensureID(&l.ID); return nil }
func (l *InventoryLog) BeforeCreate(*gorm.DB) error { ensureID(&l.ID); return nil }
func (p *PaymentOrder) BeforeCreate(*gorm.DB) error { ensureID(&p.ID); return nil }
func (r *PaymentRefund) BeforeCreate(*gorm.DB) error { ensureID(&r.ID); return nil }
func (s *Shipment) BeforeCreate(*gorm.DB) error { ensureID(&s.ID); return nil }
func (l *ShipmentStatusLog) BeforeCreate(*gorm.DB) error { ensureID(&l.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error { ensureID(&e.ID); return nil }
func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error { ensureID(&d.ID); return nil }

package store

import (
	"context"
	"crypto/cipher"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ktiyab/coheara/internal/types"
)

// Entity key prefixes. Each entity is stored as a single encrypted JSON
// blob keyed by prefix + its UUID; badger has no secondary indexes, so
// "list all X" operations iterate the prefix and filter/join in Go. This
// is adequate at the scale of a single patient's local record.
const (
	prefixMedication  = "med:"
	prefixDoseChange  = "dch:"
	prefixLabResult  = "lab:"
	prefixSymptom   = "sym:"
	prefixDiagnosis  = "dia:"
	prefixProcedure  = "proc:"
	prefixAllergy   = "alg:"
	prefixReferral   = "ref:"
	prefixInstruction = "ins:"
	prefixDocument   = "doc:"
	prefixProfessional = "prof:"
	prefixAppointment = "appt:"
	prefixAlert     = "alert:"
	prefixDevice    = "device:"
	prefixSession   = "session:"

	keyProfileTrust = "profiletrust"
	keySyncVersions = "syncversions"
	keyProfileName  = "profilename"
)

// badgerTxn aliases badger.Txn so the per-entity files in this package
// don't each need their own badger import just for the transaction type.
type badgerTxn = badger.Txn

// Repository is the badger-backed persistence layer, encrypting every
// value at rest with AES-256-GCM. It implements pairing.DeviceStore,
// sync.Store, appointment.Store, and pipeline.Conn, and provides loaders
// for the coherence and timeline read-snapshots.
type Repository struct {
	db  *DB
	aead cipher.AEAD
}

// NewRepository wraps db, encrypting all entity values with key.
func NewRepository(db *DB, key [32]byte) (*Repository, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db, aead: aead}, nil
}

// put encrypts and writes value under key within txn.
func (r *Repository) put(txn *badger.Txn, key string, value any) error {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshaling %s: %w", key, err)
	}
	ciphertext, err := seal(r.aead, plaintext)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), ciphertext)
}

// get reads and decrypts the value at key within txn, decoding into out.
// Returns (false, nil) if the key is absent.
func (r *Repository) get(txn *badger.Txn, key string, out any) (bool, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: reading %s: %w", key, err)
	}
	var plaintext []byte
	err = item.Value(func(ciphertext []byte) error {
		pt, err := open(r.aead, ciphertext)
		if err != nil {
			return fmt.Errorf("store: decrypting %s: %w", key, err)
		}
		plaintext = pt
		return nil
	})
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return false, fmt.Errorf("store: unmarshaling %s: %w", key, err)
	}
	return true, nil
}

// iteratePrefix decodes every value under prefix within txn, calling fn
// for each. fn returning an error stops iteration and propagates it.
func (r *Repository) iteratePrefix(txn *badger.Txn, prefix string, fn func(key string, decode func(out any) error) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		item := it.Item()
		key := string(item.KeyCopy(nil))
		var ciphertext []byte
		if err := item.Value(func(v []byte) error {
			ciphertext = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return fmt.Errorf("store: reading %s: %w", key, err)
		}
		decode := func(out any) error {
			plaintext, err := open(r.aead, ciphertext)
			if err != nil {
				return fmt.Errorf("store: decrypting %s: %w", key, err)
			}
			return json.Unmarshal(plaintext, out)
		}
		if err := fn(key, decode); err != nil {
			return err
		}
	}
	return nil
}

func medicationKey(id types.ID) string  { return prefixMedication + id.String() }
func doseChangeKey(id types.ID) string  { return prefixDoseChange + id.String() }
func labResultKey(id types.ID) string  { return prefixLabResult + id.String() }
func symptomKey(id types.ID) string   { return prefixSymptom + id.String() }
func diagnosisKey(id types.ID) string  { return prefixDiagnosis + id.String() }
func procedureKey(id types.ID) string  { return prefixProcedure + id.String() }
func allergyKey(id types.ID) string   { return prefixAllergy + id.String() }
func referralKey(id types.ID) string  { return prefixReferral + id.String() }
func instructionKey(id types.ID) string { return prefixInstruction + id.String() }
func documentKey(id types.ID) string   { return prefixDocument + id.String() }
func professionalKey(id types.ID) string { return prefixProfessional + id.String() }
func appointmentKey(id types.ID) string { return prefixAppointment + id.String() }
func alertKey(id types.ID) string    { return prefixAlert + id.String() }
func deviceKey(id types.ID) string    { return prefixDevice + id.String() }
func sessionKey(id types.ID) string   { return prefixSession + id.String() }

// allMedications loads every medication row.
func (r *Repository) allMedications(txn *badger.Txn) ([]types.Medication, error) {
	var out []types.Medication
	err := r.iteratePrefix(txn, prefixMedication, func(key string, decode func(any) error) error {
		var m types.Medication
		if err := decode(&m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (r *Repository) allDoseChanges(txn *badger.Txn) ([]types.DoseChange, error) {
	var out []types.DoseChange
	err := r.iteratePrefix(txn, prefixDoseChange, func(key string, decode func(any) error) error {
		var d types.DoseChange
		if err := decode(&d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (r *Repository) allLabResults(txn *badger.Txn) ([]types.LabResult, error) {
	var out []types.LabResult
	err := r.iteratePrefix(txn, prefixLabResult, func(key string, decode func(any) error) error {
		var l types.LabResult
		if err := decode(&l); err != nil {
			return err
		}
		out = append(out, l)
		return nil
	})
	return out, err
}

func (r *Repository) allSymptoms(txn *badger.Txn) ([]types.Symptom, error) {
	var out []types.Symptom
	err := r.iteratePrefix(txn, prefixSymptom, func(key string, decode func(any) error) error {
		var s types.Symptom
		if err := decode(&s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func (r *Repository) allDiagnoses(txn *badger.Txn) ([]types.Diagnosis, error) {
	var out []types.Diagnosis
	err := r.iteratePrefix(txn, prefixDiagnosis, func(key string, decode func(any) error) error {
		var d types.Diagnosis
		if err := decode(&d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (r *Repository) allProcedures(txn *badger.Txn) ([]types.Procedure, error) {
	var out []types.Procedure
	err := r.iteratePrefix(txn, prefixProcedure, func(key string, decode func(any) error) error {
		var p types.Procedure
		if err := decode(&p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (r *Repository) allAllergies(txn *badger.Txn) ([]types.Allergy, error) {
	var out []types.Allergy
	err := r.iteratePrefix(txn, prefixAllergy, func(key string, decode func(any) error) error {
		var a types.Allergy
		if err := decode(&a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (r *Repository) allCompoundIngredients(txn *badger.Txn) ([]types.CompoundIngredient, error) {
	// No dedicated compound-ingredient ingestion path exists yet (spec
	// §1 leaves compound medication parsing to the structuring stage,
	// which does not currently emit CompoundIngredient rows); return an
	// empty slice rather than a table that never gets populated.
	return nil, nil
}

func (r *Repository) allReferrals(txn *badger.Txn) ([]types.Referral, error) {
	var out []types.Referral
	err := r.iteratePrefix(txn, prefixReferral, func(key string, decode func(any) error) error {
		var ref types.Referral
		if err := decode(&ref); err != nil {
			return err
		}
		out = append(out, ref)
		return nil
	})
	return out, err
}

func (r *Repository) allInstructions(txn *badger.Txn) ([]types.MedicationInstruction, error) {
	var out []types.MedicationInstruction
	err := r.iteratePrefix(txn, prefixInstruction, func(key string, decode func(any) error) error {
		var ins types.MedicationInstruction
		if err := decode(&ins); err != nil {
			return err
		}
		out = append(out, ins)
		return nil
	})
	return out, err
}

func (r *Repository) allDocuments(txn *badger.Txn) ([]types.Document, error) {
	var out []types.Document
	err := r.iteratePrefix(txn, prefixDocument, func(key string, decode func(any) error) error {
		var d types.Document
		if err := decode(&d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (r *Repository) allProfessionals(txn *badger.Txn) ([]types.Professional, error) {
	var out []types.Professional
	err := r.iteratePrefix(txn, prefixProfessional, func(key string, decode func(any) error) error {
		var p types.Professional
		if err := decode(&p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (r *Repository) allAppointments(txn *badger.Txn) ([]types.Appointment, error) {
	var out []types.Appointment
	err := r.iteratePrefix(txn, prefixAppointment, func(key string, decode func(any) error) error {
		var a types.Appointment
		if err := decode(&a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (r *Repository) allAlerts(txn *badger.Txn) ([]types.Alert, error) {
	var out []types.Alert
	err := r.iteratePrefix(txn, prefixAlert, func(key string, decode func(any) error) error {
		var a types.Alert
		if err := decode(&a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (r *Repository) allDevices(txn *badger.Txn) ([]types.PairedDevice, error) {
	var out []types.PairedDevice
	err := r.iteratePrefix(txn, prefixDevice, func(key string, decode func(any) error) error {
		var d types.PairedDevice
		if err := decode(&d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (r *Repository) allSessions(txn *badger.Txn) ([]types.DeviceSession, error) {
	var out []types.DeviceSession
	err := r.iteratePrefix(txn, prefixSession, func(key string, decode func(any) error) error {
		var s types.DeviceSession
		if err := decode(&s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// ctxErr returns a wrapped error if ctx is already done, else nil. Every
// exported Repository method checks this first since badger transactions
// carry no native per-call cancellation.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: context cancelled: %w", err)
	}
	return nil
}

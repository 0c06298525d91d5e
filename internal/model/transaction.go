package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a farm transaction.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// Category is a Schedule F income or expense line.
type Category string

// Income categories (Schedule F Part I).
const (
	CategoryGrainSales                  Category = "grain_sales"
	CategoryLivestockSalesPurchased     Category = "livestock_sales_purchased"
	CategoryLivestockSalesRaised        Category = "livestock_sales_raised"
	CategoryCooperativeDistributions    Category = "cooperative_distributions"
	CategoryAgriculturalProgramPayments Category = "agricultural_program_payments"
	CategoryCCCLoansReported            Category = "ccc_loans_reported"
	CategoryCCCLoansForfeited           Category = "ccc_loans_forfeited"
	CategoryCropInsuranceProceeds       Category = "crop_insurance_proceeds"
	CategoryCustomHireIncome            Category = "custom_hire_income"
	CategoryOtherFarmIncome             Category = "other_farm_income"
)

// Expense categories (Schedule F Part II).
const (
	CategoryCarTruck             Category = "car_truck_expenses"
	CategoryChemicals            Category = "chemicals"
	CategoryConservation         Category = "conservation_expenses"
	CategoryCustomHire           Category = "custom_hire"
	CategoryEmployeeBenefits     Category = "employee_benefit_programs"
	CategoryFeed                 Category = "feed"
	CategoryFertilizersLime      Category = "fertilizers_lime"
	CategoryFreightTrucking      Category = "freight_trucking"
	CategoryGasolineFuelOil      Category = "gasoline_fuel_oil"
	CategoryInsurance            Category = "insurance"
	CategoryInterestMortgage     Category = "interest_mortgage"
	CategoryInterestOther        Category = "interest_other"
	CategoryLaborHired           Category = "labor_hired"
	CategoryPensionProfitSharing Category = "pension_profit_sharing"
	CategoryRentMachinery        Category = "rent_machinery_equipment"
	CategoryRentLandAnimals      Category = "rent_land_animals"
	CategoryRepairsMaintenance   Category = "repairs_maintenance"
	CategorySeedsPlants          Category = "seeds_plants"
	CategoryStorageWarehousing   Category = "storage_warehousing"
	CategorySupplies             Category = "supplies"
	CategoryTaxes                Category = "taxes"
	CategoryUtilities            Category = "utilities"
	CategoryVeterinary           Category = "veterinary_breeding_medicine"
	CategoryOtherExpenses        Category = "other_expenses"
)

type categoryInfo struct {
	typ  TransactionType
	line string
}

var categories = map[Category]categoryInfo{
	CategoryLivestockSalesPurchased:     {TypeIncome, "1a"},
	CategoryGrainSales:                  {TypeIncome, "2"},
	CategoryLivestockSalesRaised:        {TypeIncome, "2"},
	CategoryCooperativeDistributions:    {TypeIncome, "3a"},
	CategoryAgriculturalProgramPayments: {TypeIncome, "4a"},
	CategoryCCCLoansReported:            {TypeIncome, "5a"},
	CategoryCCCLoansForfeited:           {TypeIncome, "5b"},
	CategoryCropInsuranceProceeds:       {TypeIncome, "6a"},
	CategoryCustomHireIncome:            {TypeIncome, "7"},
	CategoryOtherFarmIncome:             {TypeIncome, "8"},

	CategoryCarTruck:             {TypeExpense, "10"},
	CategoryChemicals:            {TypeExpense, "11"},
	CategoryConservation:         {TypeExpense, "12"},
	CategoryCustomHire:           {TypeExpense, "13"},
	CategoryEmployeeBenefits:     {TypeExpense, "15"},
	CategoryFeed:                 {TypeExpense, "16"},
	CategoryFertilizersLime:      {TypeExpense, "17"},
	CategoryFreightTrucking:      {TypeExpense, "18"},
	CategoryGasolineFuelOil:      {TypeExpense, "19"},
	CategoryInsurance:            {TypeExpense, "20"},
	CategoryInterestMortgage:     {TypeExpense, "21a"},
	CategoryInterestOther:        {TypeExpense, "21b"},
	CategoryLaborHired:           {TypeExpense, "22"},
	CategoryPensionProfitSharing: {TypeExpense, "23"},
	CategoryRentMachinery:        {TypeExpense, "24a"},
	CategoryRentLandAnimals:      {TypeExpense, "24b"},
	CategoryRepairsMaintenance:   {TypeExpense, "25"},
	CategorySeedsPlants:          {TypeExpense, "26"},
	CategoryStorageWarehousing:   {TypeExpense, "27"},
	CategorySupplies:             {TypeExpense, "28"},
	CategoryTaxes:                {TypeExpense, "29"},
	CategoryUtilities:            {TypeExpense, "30"},
	CategoryVeterinary:           {TypeExpense, "31"},
	CategoryOtherExpenses:        {TypeExpense, "32"},
}

// ScheduleFLineDepreciation is where computed depreciation is reported.
const ScheduleFLineDepreciation = "14"

// Valid reports whether c is a known Schedule F category.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// Type returns whether c is an income or expense line. Empty for unknown categories.
func (c Category) Type() TransactionType {
	return categories[c].typ
}

// ScheduleFLine returns the form line the category reports on.
func (c Category) ScheduleFLine() string {
	return categories[c].line
}

// Transaction is a single income or expense record for an entity.
type Transaction struct {
	ID          string          `validate:"required"`
	EntityID    string          `validate:"required"`
	Date        time.Time       `validate:"required"`
	Type        TransactionType `validate:"required,oneof=income expense"`
	Category    Category        `validate:"required,schedule_f"`
	Amount      decimal.Decimal `validate:"dec_positive"`
	Prepaid     bool
	Description string
}
